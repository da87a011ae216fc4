// internal/services/archive_service.go
package services

import (
	"bytes"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/keyhaven/licensing-backend/internal/config"
	"github.com/keyhaven/licensing-backend/internal/models"
)

// ArchiveService stores raw webhook payloads in S3 for later replay and
// dispute handling. Archival is best effort and never blocks processing.
type ArchiveService struct {
	s3Client *s3.S3
	config   *config.Config
}

func NewArchiveService(config *config.Config) (*ArchiveService, error) {
	if config.AWS.AccessKeyID == "" {
		// Return service without S3 for local development
		return &ArchiveService{config: config}, nil
	}

	// Create AWS session
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(config.AWS.Region),
		Credentials: credentials.NewStaticCredentials(
			config.AWS.AccessKeyID,
			config.AWS.SecretAccessKey,
			"",
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &ArchiveService{
		s3Client: s3.New(sess),
		config:   config,
	}, nil
}

// ArchivePayload writes the raw provider payload under
// <prefix>/<provider>/<yyyy>/<mm>/<dd>/<event-id>.json.
func (s *ArchiveService) ArchivePayload(provider models.PaymentProvider, eventID string, payload []byte) error {
	if s.s3Client == nil || !s.config.Webhook.ArchivePayloads {
		return nil
	}

	now := time.Now().UTC()
	key := fmt.Sprintf("%s/%s/%s/%s.json",
		s.config.Webhook.ArchivePrefix,
		provider,
		now.Format("2006/01/02"),
		eventID,
	)

	_, err := s.s3Client.PutObject(&s3.PutObjectInput{
		Bucket:      aws.String(s.config.AWS.S3Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to archive payload: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"provider": provider,
		"event_id": eventID,
		"key":      key,
	}).Debug("Webhook payload archived")

	return nil
}
