package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xuri/excelize/v2"

	"bulk-operations-engine/internal/config"
	"bulk-operations-engine/internal/models"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type exportUploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// ExportHandler executes analytics-export units: one workbook per client,
// uploaded to S3 when a bucket is configured, otherwise to a local
// directory.
type ExportHandler struct {
	local exportUploader
	s3    exportUploader
}

// NewExportHandler constructs the handler and chooses an uploader.
func NewExportHandler(ctx context.Context, cfg config.Config) (*ExportHandler, error) {
	baseDir := cfg.ExportOutputDir
	if baseDir == "" {
		baseDir = "./exports"
	}

	var s3Upload exportUploader
	if cfg.ExportS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s3Upload = &s3Uploader{client: client, bucket: cfg.ExportS3Bucket}
	}

	return &ExportHandler{
		local: &localUploader{baseDir: baseDir},
		s3:    s3Upload,
	}, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.ExportS3Region),
	}
	if cfg.ExportS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.ExportS3Endpoint,
					HostnameImmutable: cfg.ExportS3PathStyle,
					SigningRegion:     cfg.ExportS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ExportS3PathStyle
	}), nil
}

// Handle builds and uploads one analytics workbook for one client.
func (h *ExportHandler) Handle(ctx context.Context, op models.BulkOperation, clientID, itemID string) error {
	body, err := buildWorkbook(op, clientID, itemID)
	if err != nil {
		return err
	}

	key := exportKey(op.ID, clientID, itemID)
	uploader := h.local
	if h.s3 != nil {
		uploader = h.s3
	}
	if _, err := uploader.Upload(ctx, key, body, xlsxContentType); err != nil {
		return fmt.Errorf("upload export for client %s: %w", clientID, err)
	}
	return nil
}

func exportKey(operationID, clientID, itemID string) string {
	name := clientID
	if itemID != "" {
		name = clientID + "-" + itemID
	}
	return filepath.ToSlash(filepath.Join("exports", operationID, name+".xlsx"))
}

// buildWorkbook renders the export: a header block describing the export
// request plus whatever metrics the parameters asked for.
func buildWorkbook(op models.BulkOperation, clientID, itemID string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Analytics"
	if _, err := f.NewSheet(sheet); err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("drop default sheet: %w", err)
	}

	rows := [][]any{
		{"Client", clientID},
		{"Operation", op.ID},
		{"Generated", time.Now().UTC().Format(time.RFC3339)},
	}
	if itemID != "" {
		rows = append(rows, []any{"Item", itemID})
	}
	if settings, ok := op.Parameters["exportSettings"].(map[string]any); ok {
		if metrics, ok := settings["metrics"].([]any); ok {
			names := make([]string, 0, len(metrics))
			for _, m := range metrics {
				if s, ok := m.(string); ok {
					names = append(names, s)
				}
			}
			rows = append(rows, []any{"Metrics", strings.Join(names, ", ")})
		}
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, fmt.Errorf("cell name: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row: %w", err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}

type localUploader struct {
	baseDir string
}

func (u *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(u.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return path, nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (u *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", u.bucket, key), nil
}
