package classifier

import (
	"bufio"
	"math"
	"os"
	"runtime"
	"sort"
	"sync"

	"github.com/tphakala/fieldpipe/internal/fielderr"
	"github.com/tphakala/go-tflite"
	"github.com/tphakala/go-tflite/delegates/xnnpack"
)

// TFLiteConfig configures the model-backed Classifier.
type TFLiteConfig struct {
	ModelPath  string // required: path to a .tflite model file
	LabelsPath string // required: newline-delimited label file, one "scientific_common" label per line
	Sensitivity float64
	Threads    int
	UseXNNPACK bool
}

// TFLiteClassifier runs inference through a TensorFlow Lite interpreter.
// Matches the teacher's BirdNET struct shape: one interpreter, one label
// set, a mutex serializing calls since the interpreter itself isn't
// goroutine-safe.
type TFLiteClassifier struct {
	mu          sync.Mutex
	interpreter *tflite.Interpreter
	model       *tflite.Model
	labels      []string
	sensitivity float64
}

// NewTFLiteClassifier loads the model and label file named in cfg and
// allocates an interpreter ready for Classify calls.
func NewTFLiteClassifier(cfg TFLiteConfig) (*TFLiteClassifier, error) {
	modelData, err := os.ReadFile(cfg.ModelPath)
	if err != nil {
		return nil, fielderr.New(err).Component("classifier").Category(fielderr.CategoryPermanent).
			Context("operation", "read_model_file").Context("path", cfg.ModelPath).Build()
	}

	model := tflite.NewModel(modelData)
	if model == nil {
		return nil, fielderr.Newf("cannot load tflite model from %s", cfg.ModelPath).
			Component("classifier").Category(fielderr.CategoryPermanent).Build()
	}

	threads := cfg.Threads
	if threads <= 0 || threads > runtime.NumCPU() {
		threads = runtime.NumCPU()
	}

	options := tflite.NewInterpreterOptions()
	if cfg.UseXNNPACK {
		delegate := xnnpack.New(xnnpack.DelegateOptions{NumThreads: int32(max(1, threads-1))})
		if delegate != nil {
			options.AddDelegate(delegate)
			options.SetNumThread(1)
		} else {
			options.SetNumThread(threads)
		}
	} else {
		options.SetNumThread(threads)
	}

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		model.Delete()
		return nil, fielderr.Newf("cannot create tflite interpreter").
			Component("classifier").Category(fielderr.CategoryPermanent).Build()
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		model.Delete()
		return nil, fielderr.Newf("tensor allocation failed: %v", status).
			Component("classifier").Category(fielderr.CategoryPermanent).Build()
	}

	labels, err := loadLabels(cfg.LabelsPath)
	if err != nil {
		interpreter.Delete()
		model.Delete()
		return nil, err
	}

	sensitivity := cfg.Sensitivity
	if sensitivity == 0 {
		sensitivity = 1.0
	}

	return &TFLiteClassifier{
		interpreter: interpreter,
		model:       model,
		labels:      labels,
		sensitivity: sensitivity,
	}, nil
}

func loadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fielderr.New(err).Component("classifier").Category(fielderr.CategoryPermanent).
			Context("operation", "open_labels_file").Context("path", path).Build()
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		labels = append(labels, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fielderr.New(err).Component("classifier").Category(fielderr.CategoryPermanent).
			Context("operation", "scan_labels_file").Build()
	}
	return labels, nil
}

// Classify runs one inference pass over window, a 3-second (by default)
// float32 PCM window already scaled to [-1.0, 1.0] by component A.
func (c *TFLiteClassifier) Classify(window []float32) ([]Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	input := c.interpreter.GetInputTensor(0)
	if input == nil {
		return nil, fielderr.Newf("cannot get classifier input tensor").
			Component("classifier").Category(fielderr.CategoryClassifier).Build()
	}

	dst := input.Float32s()
	n := copy(dst, window)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}

	if status := c.interpreter.Invoke(); status != tflite.OK {
		return nil, fielderr.Newf("classifier invoke failed: %v", status).
			Component("classifier").Category(fielderr.CategoryClassifier).Build()
	}

	output := c.interpreter.GetOutputTensor(0)
	if output == nil {
		return nil, fielderr.Newf("cannot get classifier output tensor").
			Component("classifier").Category(fielderr.CategoryClassifier).Build()
	}

	predictions := output.Float32s()
	if len(predictions) != len(c.labels) {
		return nil, fielderr.Newf("label/prediction count mismatch: %d labels vs %d predictions", len(c.labels), len(predictions)).
			Component("classifier").Category(fielderr.CategoryClassifier).Build()
	}

	results := make([]Result, len(predictions))
	for i, p := range predictions {
		results[i] = Result{
			SpeciesTensor: c.labels[i],
			Confidence:    float32(sigmoid(float64(p), c.sensitivity)),
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Confidence > results[j].Confidence })
	return results, nil
}

// Close releases the interpreter and model.
func (c *TFLiteClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interpreter != nil {
		c.interpreter.Delete()
		c.interpreter = nil
	}
	if c.model != nil {
		c.model.Delete()
		c.model = nil
	}
	return nil
}

func sigmoid(x, sensitivity float64) float64 {
	return 1.0 / (1.0 + math.Exp(-sensitivity*x))
}

