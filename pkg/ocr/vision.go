package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"
)

// VisionEngine recognizes text with Google Cloud Vision document detection.
// The annotator client is shared by all workers and is safe for concurrent
// use, so workers hold no resources of their own.
type VisionEngine struct {
	client *vision.ImageAnnotatorClient
}

// annotateFunc sends one batch request to the annotator.
type annotateFunc func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error)

// NewVisionEngine opens an annotator client. An empty credentialsFile uses
// application default credentials.
func NewVisionEngine(ctx context.Context, credentialsFile string) (*VisionEngine, error) {
	var opts []option.ClientOption
	if path := strings.TrimSpace(credentialsFile); path != "" {
		opts = append(opts, option.WithCredentialsFile(path))
	}
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("init vision client: %w", err)
	}
	return &VisionEngine{client: client}, nil
}

// NewWorker implements Engine.
func (e *VisionEngine) NewWorker(_ context.Context, language string) (Worker, error) {
	if e == nil || e.client == nil {
		return nil, errors.New("vision client closed")
	}
	client := e.client
	annotate := func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error) {
		return client.BatchAnnotateImages(ctx, req)
	}
	return &visionWorker{annotate: annotate, hints: visionLanguageHints(language)}, nil
}

// Close shuts down the shared client.
func (e *VisionEngine) Close() error {
	return e.client.Close()
}

type visionWorker struct {
	annotate annotateFunc
	hints    []string
}

func (w *visionWorker) Recognize(ctx context.Context, image []byte) (string, error) {
	resp, err := w.annotate(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{buildAnnotateRequest(image, w.hints)},
	})
	if err != nil {
		return "", fmt.Errorf("vision BatchAnnotateImages: %w", err)
	}
	if resp == nil || len(resp.GetResponses()) == 0 || resp.GetResponses()[0] == nil {
		return "", nil
	}
	r0 := resp.GetResponses()[0]
	if msg := r0.GetError().GetMessage(); msg != "" {
		return "", fmt.Errorf("vision annotate: %s", msg)
	}
	return r0.GetFullTextAnnotation().GetText(), nil
}

func (w *visionWorker) Close() error { return nil }

func buildAnnotateRequest(image []byte, hints []string) *visionpb.AnnotateImageRequest {
	req := &visionpb.AnnotateImageRequest{
		Image: &visionpb.Image{Content: image},
		Features: []*visionpb.Feature{
			{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
		},
	}
	if len(hints) > 0 {
		req.ImageContext = &visionpb.ImageContext{LanguageHints: hints}
	}
	return req
}

// visionLanguageHints maps tesseract-style codes ("eng+por") onto the BCP-47
// hints Vision expects. Unknown codes are passed through.
func visionLanguageHints(language string) []string {
	var hints []string
	for _, code := range strings.Split(language, "+") {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		if mapped, ok := tesseractToBCP47[code]; ok {
			code = mapped
		}
		hints = append(hints, code)
	}
	return hints
}

var tesseractToBCP47 = map[string]string{
	"eng":     "en",
	"por":     "pt",
	"spa":     "es",
	"fra":     "fr",
	"deu":     "de",
	"ita":     "it",
	"nld":     "nl",
	"jpn":     "ja",
	"kor":     "ko",
	"chi_sim": "zh",
	"chi_tra": "zh-Hant",
}
