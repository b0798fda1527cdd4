// cmd/server/main_test.go
package main

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/SyedDaiam9101/leaf-disease-service/internal/config"
)

func writeMetadata(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metadata.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func mockConfig(metadata string, imageSize int) *config.Config {
	return &config.Config{
		ModelMetadata:    metadata,
		ClassLabels:      []string{"Early Blight", "Late Blight", "Healthy"},
		ImageSize:        imageSize,
		ResizeFilter:     "bicubic",
		Normalization:    "none",
		UseMockInference: true,
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestBuildClassifier_MetadataInputShapeSetsImageSize(t *testing.T) {
	md := writeMetadata(t, `{"classes":["Early Blight","Late Blight","Healthy"],"input_shape":[1,224,224,3]}`)

	classifier, model, err := buildClassifier(mockConfig(md, 256))
	if err != nil {
		t.Fatalf("buildClassifier failed: %v", err)
	}
	defer model.Close()

	if got := classifier.InputShape(); got[1] != 224 || got[2] != 224 {
		t.Errorf("Expected 224x224 input, got %v", got)
	}
	if _, err := classifier.Classify(context.Background(), pngBytes(t, 300, 200)); err != nil {
		t.Errorf("Classify failed: %v", err)
	}
}

func TestBuildClassifier_MetadataShapeMismatch(t *testing.T) {
	md := writeMetadata(t, `{"classes":["Early Blight","Late Blight","Healthy"],"input_shape":[1,224,224,3],"image_size":256}`)

	if _, _, err := buildClassifier(mockConfig(md, 256)); err == nil {
		t.Fatal("Expected error when metadata input shape disagrees with image_size")
	}
}

func TestBuildClassifier_DynamicMetadataShape(t *testing.T) {
	md := writeMetadata(t, `{"classes":["Early Blight","Late Blight","Healthy"],"input_shape":[-1,-1,-1,3]}`)

	classifier, model, err := buildClassifier(mockConfig(md, 128))
	if err != nil {
		t.Fatalf("buildClassifier failed: %v", err)
	}
	defer model.Close()

	if _, err := classifier.Classify(context.Background(), pngBytes(t, 64, 64)); err != nil {
		t.Errorf("Classify failed: %v", err)
	}
}

func TestBuildClassifier_Defaults(t *testing.T) {
	classifier, model, err := buildClassifier(mockConfig("", 256))
	if err != nil {
		t.Fatalf("buildClassifier failed: %v", err)
	}
	defer model.Close()

	want := []int64{1, 256, 256, 3}
	got := classifier.InputShape()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("InputShape = %v, expected %v", got, want)
		}
	}
}
