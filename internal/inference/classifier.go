// internal/inference/classifier.go
package inference

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/SyedDaiam9101/leaf-disease-service/internal/metrics"
	"github.com/SyedDaiam9101/leaf-disease-service/internal/preprocess"
)

const tracerName = "github.com/SyedDaiam9101/leaf-disease-service/internal/inference"

// DefaultLabels is the class table of the potato leaf model, in output order.
var DefaultLabels = []string{"Early Blight", "Late Blight", "Healthy"}

// Prediction is the outcome of classifying one image.
type Prediction struct {
	Class      string  `json:"class"`
	Confidence float32 `json:"confidence"`
}

// Options configures a Classifier.
type Options struct {
	// Labels must be positionally aligned with the model's output layer.
	Labels []string
	// InputShape is the [batch, height, width, channels] shape the model expects.
	InputShape []int64
	// ApplySoftmax converts raw logits into probabilities before arg-max.
	ApplySoftmax bool
}

// Classifier holds the loaded model and its label table. It is built once at
// startup and never mutated, so it can serve concurrent requests.
type Classifier struct {
	model        Model
	pre          *preprocess.Preprocessor
	labels       []string
	inputShape   []int64
	applySoftmax bool
	tracer       trace.Tracer
}

// NewClassifier validates opts and returns a Classifier.
func NewClassifier(model Model, pre *preprocess.Preprocessor, opts Options) (*Classifier, error) {
	if model == nil {
		return nil, fmt.Errorf("model is nil")
	}
	if pre == nil {
		return nil, fmt.Errorf("preprocessor is nil")
	}

	labels := opts.Labels
	if len(labels) == 0 {
		labels = DefaultLabels
	}
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		if l == "" {
			return nil, fmt.Errorf("class labels must not be empty strings")
		}
		if _, dup := seen[l]; dup {
			return nil, fmt.Errorf("duplicate class label %q", l)
		}
		seen[l] = struct{}{}
	}

	inputShape := opts.InputShape
	if len(inputShape) == 0 {
		po := pre.Options()
		inputShape = []int64{1, int64(po.Height), int64(po.Width), preprocess.Channels}
	}
	if len(inputShape) != 4 {
		return nil, fmt.Errorf("input shape must have 4 dimensions, got %v", inputShape)
	}

	return &Classifier{
		model:        model,
		pre:          pre,
		labels:       append([]string(nil), labels...),
		inputShape:   append([]int64(nil), inputShape...),
		applySoftmax: opts.ApplySoftmax,
		tracer:       otel.Tracer(tracerName),
	}, nil
}

// Labels returns a copy of the class label table.
func (c *Classifier) Labels() []string {
	return append([]string(nil), c.labels...)
}

// InputShape returns a copy of the expected model input shape.
func (c *Classifier) InputShape() []int64 {
	return append([]int64(nil), c.inputShape...)
}

// Classify preprocesses raw image bytes and predicts their class.
// Errors are *preprocess.DecodeError, *ModelInputError or *InferenceFailure.
func (c *Classifier) Classify(ctx context.Context, data []byte) (*Prediction, error) {
	ctx, span := c.tracer.Start(ctx, "Classifier.Classify",
		trace.WithAttributes(attribute.Int("image.bytes", len(data))))
	defer span.End()

	tensor, err := c.preprocess(ctx, data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "preprocess failed")
		return nil, err
	}

	pred, err := c.Predict(ctx, NewBatch(tensor))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "predict failed")
		return nil, err
	}

	span.SetAttributes(
		attribute.String("prediction.class", pred.Class),
		attribute.Float64("prediction.confidence", float64(pred.Confidence)),
	)
	return pred, nil
}

func (c *Classifier) preprocess(ctx context.Context, data []byte) (*preprocess.Tensor, error) {
	_, span := c.tracer.Start(ctx, "Classifier.preprocess")
	defer span.End()

	start := time.Now()
	tensor, err := c.pre.Process(data)
	metrics.RecordPreprocessLatency(time.Since(start).Seconds())
	return tensor, err
}

// Predict runs the model on a single-element batch and returns the arg-max
// label with its probability.
func (c *Classifier) Predict(ctx context.Context, batch BatchTensor) (*Prediction, error) {
	if !ShapesCompatible(c.inputShape, batch.Shape) {
		return nil, &ModelInputError{Want: c.InputShape(), Got: batch.Shape}
	}
	if int64(len(batch.Data)) != batch.Size() {
		return nil, &ModelInputError{
			Want:   c.InputShape(),
			Got:    batch.Shape,
			Reason: fmt.Sprintf("data length %d does not match shape", len(batch.Data)),
		}
	}

	ctx, span := c.tracer.Start(ctx, "Classifier.Predict")
	defer span.End()

	start := time.Now()
	scores, err := c.model.Predict(ctx, batch)
	metrics.RecordInferenceLatency(time.Since(start).Seconds())
	if err != nil {
		var inputErr *ModelInputError
		if errors.As(err, &inputErr) {
			return nil, err
		}
		return nil, &InferenceFailure{Err: err}
	}

	if len(scores) != len(c.labels) {
		return nil, &InferenceFailure{
			Err: fmt.Errorf("model returned %d scores for %d class labels", len(scores), len(c.labels)),
		}
	}
	for i, s := range scores {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return nil, &InferenceFailure{Err: fmt.Errorf("model returned non-finite score at index %d", i)}
		}
	}

	probs := scores
	if c.applySoftmax {
		probs = Softmax(scores)
	}

	idx, confidence := ArgMax(probs)
	label := c.labels[idx]
	metrics.RecordPrediction(label)

	return &Prediction{Class: label, Confidence: confidence}, nil
}

// ArgMax returns the index and value of the largest element. Ties resolve to
// the lowest index. It returns -1 for an empty slice.
func ArgMax(v []float32) (int, float32) {
	if len(v) == 0 {
		return -1, 0
	}
	idx, max := 0, v[0]
	for i := 1; i < len(v); i++ {
		if v[i] > max {
			idx, max = i, v[i]
		}
	}
	return idx, max
}

// Softmax returns a new slice holding the softmax of v.
func Softmax(v []float32) []float32 {
	if len(v) == 0 {
		return nil
	}
	_, max := ArgMax(v)

	out := make([]float32, len(v))
	var sum float64
	for i, x := range v {
		e := math.Exp(float64(x - max))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}
