package state

import (
	"context"
	"fmt"
	"strconv"

	"github.com/picklr-io/sweep/internal/eval"
	"github.com/picklr-io/sweep/internal/ir"
)

// Backend defines the interface for state storage backends.
type Backend interface {
	// Read loads the state from the backend.
	Read(ctx context.Context) (*ir.State, error)

	// Write saves the state to the backend.
	Write(ctx context.Context, state *ir.State) error

	// Lock acquires an exclusive lock on the state.
	Lock() error

	// Unlock releases the lock on the state.
	Unlock() error
}

// BackendConfig holds configuration for a state backend.
type BackendConfig struct {
	Type   string            `json:"type"` // "local" or "s3"
	Config map[string]string `json:"config"`
}

// S3BackendConfig holds configuration for the S3 state backend.
type S3BackendConfig struct {
	Bucket        string `json:"bucket"`
	Key           string `json:"key"`
	Region        string `json:"region"`
	DynamoDBTable string `json:"dynamodb_table"` // for locking
	Encrypt       bool   `json:"encrypt"`
	Profile       string `json:"profile"`
}

const (
	defaultS3Key    = "sweep/state.pkl"
	defaultS3Region = "us-east-1"
)

// ParseS3BackendConfig reads S3 settings from a flat key/value map and
// fills in defaults.
func ParseS3BackendConfig(config map[string]string) (S3BackendConfig, error) {
	cfg := S3BackendConfig{
		Bucket:        config["bucket"],
		Key:           config["key"],
		Region:        config["region"],
		DynamoDBTable: config["dynamodb_table"],
		Profile:       config["profile"],
	}
	if cfg.Bucket == "" {
		return cfg, fmt.Errorf("s3 backend requires 'bucket' configuration")
	}
	if cfg.Key == "" {
		cfg.Key = defaultS3Key
	}
	if cfg.Region == "" {
		cfg.Region = defaultS3Region
	}
	if v, ok := config["encrypt"]; ok && v != "" {
		encrypt, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("s3 backend: invalid 'encrypt' value %q", v)
		}
		cfg.Encrypt = encrypt
	}
	return cfg, nil
}

// NewBackend creates a state backend from configuration. The evaluator
// parses PKL state content for every backend.
func NewBackend(ctx context.Context, cfg *BackendConfig, evaluator *eval.Evaluator) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("backend configuration is nil")
	}

	switch cfg.Type {
	case "local", "":
		path := cfg.Config["path"]
		if path == "" {
			return nil, fmt.Errorf("local backend requires 'path' configuration")
		}
		return NewManager(path, evaluator), nil
	case "s3":
		s3cfg, err := ParseS3BackendConfig(cfg.Config)
		if err != nil {
			return nil, err
		}
		return newS3Backend(ctx, s3cfg, evaluator)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
