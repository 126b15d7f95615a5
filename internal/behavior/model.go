package behavior

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"gopkg.in/yaml.v3"
)

const featureDim = 4

// modelCalibration clamps raw model outputs to a known score range so
// one wild output cannot flatten the normalized batch. Shipped next to
// the model as calibration.yaml.
type modelCalibration struct {
	Floor   *float64 `yaml:"floor"`
	Ceiling *float64 `yaml:"ceiling"`
}

// ModelScorer runs a trained anomaly model (exported to ONNX) over
// per-user feature vectors. The session holds fixed one-row tensors and
// is serialized with a mutex.
type ModelScorer struct {
	session     *ort.AdvancedSession
	input       *ort.Tensor[float32]
	output      *ort.Tensor[float32]
	calibration modelCalibration

	mu sync.Mutex
}

// LoadModelScorer initializes the ONNX runtime and loads the anomaly
// model bundle (anomaly.onnx plus optional calibration.yaml) from dir.
func LoadModelScorer(dir string) (*ModelScorer, error) {
	if dir == "" {
		return nil, errors.New("model dir is empty")
	}

	libPath := resolveSharedLibraryPath(dir)
	if libPath == "" {
		return nil, errors.New("onnxruntime shared library not found; set ONNXRUNTIME_SHARED_LIBRARY_PATH or install the runtime")
	}
	ort.SetSharedLibraryPath(libPath)
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}

	modelPath := filepath.Join(dir, "anomaly.onnx")
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file missing at %s: %w", modelPath, err)
	}

	calibration, err := loadCalibration(filepath.Join(dir, "calibration.yaml"))
	if err != nil {
		return nil, fmt.Errorf("load calibration: %w", err)
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, featureDim))
	if err != nil {
		return nil, fmt.Errorf("allocate input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		return nil, fmt.Errorf("allocate output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"features"},
		[]string{"anomaly_score"},
		[]ort.Value{input},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &ModelScorer{
		session:     session,
		input:       input,
		output:      output,
		calibration: calibration,
	}, nil
}

func (m *ModelScorer) Name() string { return "model" }

// Score runs the model once per vector.
func (m *ModelScorer) Score(vectors []FeatureVector) ([]float64, error) {
	if m == nil || m.session == nil {
		return nil, errors.New("anomaly model not initialized")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	scores := make([]float64, len(vectors))
	for i, vec := range vectors {
		copy(m.input.GetData(), vec.Values())
		if err := m.session.Run(); err != nil {
			return nil, fmt.Errorf("onnx run: %w", err)
		}
		scores[i] = m.clamp(float64(m.output.GetData()[0]))
	}
	return scores, nil
}

// Close releases the ONNX session and its tensors.
func (m *ModelScorer) Close() {
	if m.session != nil {
		m.session.Destroy()
	}
	if m.input != nil {
		m.input.Destroy()
	}
	if m.output != nil {
		m.output.Destroy()
	}
}

func (m *ModelScorer) clamp(score float64) float64 {
	if m.calibration.Floor != nil && score < *m.calibration.Floor {
		return *m.calibration.Floor
	}
	if m.calibration.Ceiling != nil && score > *m.calibration.Ceiling {
		return *m.calibration.Ceiling
	}
	return score
}

func loadCalibration(path string) (modelCalibration, error) {
	var cal modelCalibration
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cal, nil
	}
	if err != nil {
		return cal, err
	}
	if err := yaml.Unmarshal(data, &cal); err != nil {
		return cal, err
	}
	return cal, nil
}

// resolveSharedLibraryPath locates the onnxruntime shared library.
// ONNXRUNTIME_SHARED_LIBRARY_PATH wins; otherwise common names and
// locations are probed.
func resolveSharedLibraryPath(dir string) string {
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}

	names := []string{
		"libonnxruntime.so",
		"onnxruntime.so",
		"libonnxruntime.dylib",
		"onnxruntime.dylib",
		"onnxruntime.dll",
	}
	dirs := []string{
		dir,
		filepath.Join(dir, "lib"),
		".",
		"/usr/local/lib",
		"/usr/lib",
		"/opt/homebrew/lib",
	}
	for _, d := range dirs {
		for _, name := range names {
			candidate := filepath.Join(d, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}
