// internal/handlers/license.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/keyhaven/licensing-backend/internal/services"
	"github.com/keyhaven/licensing-backend/internal/utils"
)

type LicenseHandler struct {
	licenseService *services.LicenseService
}

func NewLicenseHandler(licenseService *services.LicenseService) *LicenseHandler {
	return &LicenseHandler{
		licenseService: licenseService,
	}
}

// GET /licenses/:key/verify
func (h *LicenseHandler) VerifyLicense(c *gin.Context) {
	key := c.Param("key")
	if key == "" {
		utils.BadRequestResponse(c, "License key is required", nil)
		return
	}

	verification, err := h.licenseService.VerifyLicense(key)
	if err != nil {
		utils.InternalErrorResponse(c, "Verification failed")
		return
	}

	utils.SuccessResponse(c, verification)
}

// GET /licenses
func (h *LicenseHandler) GetLicenses(c *gin.Context) {
	customerID, ok := customerIDFromContext(c)
	if !ok {
		return
	}

	params := utils.GetPaginationParams(c)
	result, err := h.licenseService.GetCustomerLicenses(customerID, params)
	if err != nil {
		utils.InternalErrorResponse(c, "Failed to fetch licenses")
		return
	}

	utils.PaginatedResponse(c, *result)
}

// GET /payments
func (h *LicenseHandler) GetPayments(c *gin.Context) {
	customerID, ok := customerIDFromContext(c)
	if !ok {
		return
	}

	params := utils.GetPaginationParams(c)
	result, err := h.licenseService.GetCustomerPayments(customerID, params)
	if err != nil {
		utils.InternalErrorResponse(c, "Failed to fetch payments")
		return
	}

	utils.PaginatedResponse(c, *result)
}

// POST /licenses/trial
func (h *LicenseHandler) IssueTrialLicense(c *gin.Context) {
	customerID, ok := customerIDFromContext(c)
	if !ok {
		return
	}

	license, err := h.licenseService.IssueTrialLicense(customerID)
	if err != nil {
		utils.BadRequestResponse(c, err.Error(), nil)
		return
	}

	utils.CreatedResponse(c, license)
}

func customerIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	customerIDStr, exists := utils.GetUserIDFromContext(c)
	if !exists {
		utils.UnauthorizedResponse(c, "")
		return uuid.Nil, false
	}

	customerID, err := uuid.Parse(customerIDStr)
	if err != nil {
		utils.BadRequestResponse(c, "Invalid customer ID", nil)
		return uuid.Nil, false
	}

	return customerID, true
}
