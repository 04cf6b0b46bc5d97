package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	vision "google.golang.org/api/vision/v1"
)

var ErrNoText = errors.New("no text found")

type ReceiptScanner interface {
	Name() string
	ScanReceipt(ctx context.Context, image []byte) (string, error)
}

// ReceiptChain tries scanners in order.
type ReceiptChain []ReceiptScanner

var _ ReceiptScanner = ReceiptChain(nil)

func (c ReceiptChain) Name() string {
	names := make([]string, len(c))
	for i, s := range c {
		names[i] = s.Name()
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

func (c ReceiptChain) ScanReceipt(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", &CaptureError{Op: "scan receipt", Err: fmt.Errorf("image: %w", ErrEmptyInput)}
	}
	return firstSuccess(ctx, "scan receipt", []ReceiptScanner(c),
		ReceiptScanner.Name,
		func(ctx context.Context, s ReceiptScanner) (string, error) {
			return s.ScanReceipt(ctx, image)
		})
}

// VisionScanner runs Cloud Vision TEXT_DETECTION.
type VisionScanner struct {
	svc *vision.Service
}

// NewVisionScanner authenticates with application default credentials.
func NewVisionScanner(ctx context.Context) (*VisionScanner, error) {
	client, err := google.DefaultClient(ctx, vision.CloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("vision credentials: %w", err)
	}
	return NewVisionScannerWithOptions(ctx, option.WithHTTPClient(client))
}

func NewVisionScannerWithOptions(ctx context.Context, opts ...option.ClientOption) (*VisionScanner, error) {
	svc, err := vision.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("vision service: %w", err)
	}
	return &VisionScanner{svc: svc}, nil
}

func (v *VisionScanner) Name() string { return "google-vision" }

func (v *VisionScanner) ScanReceipt(ctx context.Context, image []byte) (string, error) {
	req := &vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{{
			Image:    &vision.Image{Content: base64.StdEncoding.EncodeToString(image)},
			Features: []*vision.Feature{{Type: "TEXT_DETECTION"}},
		}},
	}
	res, err := v.svc.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if len(res.Responses) == 0 {
		return "", ErrNoText
	}
	r := res.Responses[0]
	if r.Error != nil {
		return "", fmt.Errorf("vision: %s", r.Error.Message)
	}
	if len(r.TextAnnotations) == 0 {
		return "", ErrNoText
	}
	text := strings.TrimSpace(r.TextAnnotations[0].Description)
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}
