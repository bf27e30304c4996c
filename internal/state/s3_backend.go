package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/picklr-io/sweep/internal/eval"
	"github.com/picklr-io/sweep/internal/ir"
	"github.com/picklr-io/sweep/internal/logging"
)

// ObjectStore is the subset of the S3 API the backend uses.
type ObjectStore interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// LockTable is the subset of the DynamoDB API the backend uses.
type LockTable interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// s3Backend implements Backend for AWS S3 with optional DynamoDB locking.
type s3Backend struct {
	cfg       S3BackendConfig
	evaluator *eval.Evaluator
	objects   ObjectStore
	locks     LockTable
	lockID    string
}

func newS3Backend(ctx context.Context, cfg S3BackendConfig, evaluator *eval.Evaluator) (Backend, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize S3 backend: unable to load AWS config: %w", err)
	}

	var locks LockTable
	if cfg.DynamoDBTable != "" {
		locks = dynamodb.NewFromConfig(awsCfg)
	}
	return newS3BackendWithClients(cfg, evaluator, s3.NewFromConfig(awsCfg), locks), nil
}

func newS3BackendWithClients(cfg S3BackendConfig, evaluator *eval.Evaluator, objects ObjectStore, locks LockTable) *s3Backend {
	return &s3Backend{
		cfg:       cfg,
		evaluator: evaluator,
		objects:   objects,
		locks:     locks,
	}
}

func (b *s3Backend) location() string {
	return fmt.Sprintf("s3://%s/%s", b.cfg.Bucket, b.cfg.Key)
}

func (b *s3Backend) Read(ctx context.Context) (*ir.State, error) {
	result, err := b.objects.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.cfg.Key),
	})
	if err != nil {
		if isMissingObject(err) {
			return &ir.State{Version: 1}, nil
		}
		return nil, fmt.Errorf("failed to read state from %s: %w", b.location(), err)
	}
	defer result.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(result.Body); err != nil {
		return nil, fmt.Errorf("failed to read S3 object body: %w", err)
	}

	state, err := parseState(ctx, b.evaluator, buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to parse remote state: %w", err)
	}
	return state, nil
}

func (b *s3Backend) Write(ctx context.Context, state *ir.State) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(b.cfg.Bucket),
		Key:         aws.String(b.cfg.Key),
		Body:        bytes.NewReader([]byte(SerializeState(state))),
		ContentType: aws.String("text/plain"),
	}
	if b.cfg.Encrypt {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}

	if _, err := b.objects.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to write state to %s: %w", b.location(), err)
	}
	logging.Debug("state written", "location", b.location(), "serial", state.Serial)
	return nil
}

func (b *s3Backend) Lock() error {
	if b.locks == nil {
		return nil
	}

	b.lockID = fmt.Sprintf("sweep-%d-%d", os.Getpid(), time.Now().UnixNano())

	_, err := b.locks.PutItem(context.Background(), &dynamodb.PutItemInput{
		TableName: aws.String(b.cfg.DynamoDBTable),
		Item: map[string]dbtypes.AttributeValue{
			"LockID":  &dbtypes.AttributeValueMemberS{Value: b.cfg.Key},
			"Info":    &dbtypes.AttributeValueMemberS{Value: b.lockID},
			"Created": &dbtypes.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(LockID)"),
	})
	if err != nil {
		var ccf *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w; if this is an error, delete the item with LockID=%q from DynamoDB table %q",
				ErrLocked, b.cfg.Key, b.cfg.DynamoDBTable)
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	return nil
}

func (b *s3Backend) Unlock() error {
	if b.locks == nil {
		return nil
	}

	_, err := b.locks.DeleteItem(context.Background(), &dynamodb.DeleteItemInput{
		TableName: aws.String(b.cfg.DynamoDBTable),
		Key: map[string]dbtypes.AttributeValue{
			"LockID": &dbtypes.AttributeValueMemberS{Value: b.cfg.Key},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func isMissingObject(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode() == "NoSuchKey" || ae.ErrorCode() == "NotFound"
	}
	return false
}
