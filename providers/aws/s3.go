package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/picklr-io/sweep/internal/ir"
	"github.com/picklr-io/sweep/internal/logging"
	"github.com/picklr-io/sweep/pkg/sdk"
)

// deleteBatchSize is the DeleteObjects limit.
const deleteBatchSize = 1000

type BucketConfig struct {
	Region       string `json:"region"`
	ForceDestroy bool   `json:"force_destroy,omitempty"`
}

type BucketState struct {
	Name         string `json:"name"`
	ARN          string `json:"arn"`
	Region       string `json:"region"`
	ForceDestroy bool   `json:"force_destroy,omitempty"`
}

func (p *Provider) planBucket(ctx context.Context, c *Clients, req *sdk.PlanRequest) (*sdk.PlanResponse, error) {
	if req.DesiredConfigJSON == nil || len(req.PriorStateJSON) == 0 {
		return sdk.PlanByComparison(req)
	}

	var prior BucketState
	if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}
	var desired BucketConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	_, err := c.S3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(req.Name)}, withRegion(prior.Region))
	if err != nil {
		if isBucketNotFound(err) {
			return &sdk.PlanResponse{Action: ir.ActionCreate}, nil
		}
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if desired.Region != "" && prior.Region != "" && desired.Region != prior.Region {
		return &sdk.PlanResponse{Action: ir.ActionReplace, ChangedAttributes: []string{"region"}}, nil
	}
	return sdk.PlanByComparison(req)
}

func (p *Provider) applyBucket(ctx context.Context, c *Clients, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired BucketConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	region := desired.Region
	if region == "" {
		region = c.Region
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(req.Name)}
	if region != DefaultRegion {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(region),
		}
	}

	_, err := c.S3.CreateBucket(ctx, input, withRegion(region))
	if err != nil {
		var owned *s3types.BucketAlreadyOwnedByYou
		if !errors.As(err, &owned) {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	stateJSON, err := json.Marshal(BucketState{
		Name:         req.Name,
		ARN:          fmt.Sprintf("arn:aws:s3:::%s", req.Name),
		Region:       region,
		ForceDestroy: desired.ForceDestroy,
	})
	if err != nil {
		return nil, err
	}
	return &sdk.ApplyResponse{NewStateJSON: stateJSON}, nil
}

// deleteBucket removes the bucket. Buckets with force_destroy, and every
// purged bucket, are emptied first, including object versions.
func (p *Provider) deleteBucket(ctx context.Context, c *Clients, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	var current BucketState
	if len(req.CurrentStateJSON) > 0 {
		if err := json.Unmarshal(req.CurrentStateJSON, &current); err != nil {
			return nil, fmt.Errorf("failed to unmarshal current state: %w", err)
		}
	}
	region := current.Region
	if region == "" {
		var err error
		if region, err = bucketRegion(ctx, c, req.Name); err != nil {
			return nil, err
		}
	}

	if current.ForceDestroy {
		if err := emptyBucket(ctx, c, req.Name, region); err != nil {
			return nil, err
		}
	}

	_, err := c.S3.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(req.Name)}, withRegion(region))
	if err != nil {
		if isBucketNotFound(err) {
			logging.Info("bucket already gone", "bucket", req.Name)
			return &sdk.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to delete bucket: %w", err)
	}
	return &sdk.DeleteResponse{}, nil
}

func emptyBucket(ctx context.Context, c *Clients, bucket, region string) error {
	var batch []s3types.ObjectIdentifier
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		out, err := c.S3.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &s3types.Delete{Objects: batch, Quiet: aws.Bool(true)},
		}, withRegion(region))
		if err != nil {
			return fmt.Errorf("failed to delete objects from %s: %w", bucket, err)
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return fmt.Errorf("failed to delete %d object(s) from %s, first %s: %s",
				len(out.Errors), bucket, aws.ToString(e.Key), aws.ToString(e.Message))
		}
		batch = batch[:0]
		return nil
	}
	add := func(id s3types.ObjectIdentifier) error {
		batch = append(batch, id)
		if len(batch) == deleteBatchSize {
			return flush()
		}
		return nil
	}

	pager := s3.NewListObjectsV2Paginator(c.S3, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx, withRegion(region))
		if err != nil {
			return fmt.Errorf("failed to list objects of %s: %w", bucket, err)
		}
		for _, obj := range page.Contents {
			if err := add(s3types.ObjectIdentifier{Key: obj.Key}); err != nil {
				return err
			}
		}
	}

	input := &s3.ListObjectVersionsInput{Bucket: aws.String(bucket)}
	for {
		page, err := c.S3.ListObjectVersions(ctx, input, withRegion(region))
		if err != nil {
			return fmt.Errorf("failed to list object versions of %s: %w", bucket, err)
		}
		for _, v := range page.Versions {
			if err := add(s3types.ObjectIdentifier{Key: v.Key, VersionId: v.VersionId}); err != nil {
				return err
			}
		}
		for _, m := range page.DeleteMarkers {
			if err := add(s3types.ObjectIdentifier{Key: m.Key, VersionId: m.VersionId}); err != nil {
				return err
			}
		}
		if !aws.ToBool(page.IsTruncated) {
			break
		}
		input.KeyMarker = page.NextKeyMarker
		input.VersionIdMarker = page.NextVersionIdMarker
	}

	return flush()
}

// listBuckets returns every bucket owned by the account with its region.
func (p *Provider) listBuckets(ctx context.Context, c *Clients) ([]ir.LiveInstance, error) {
	var out []ir.LiveInstance

	pager := s3.NewListBucketsPaginator(c.S3, &s3.ListBucketsInput{})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list buckets: %w", err)
		}
		for _, b := range page.Buckets {
			name := aws.ToString(b.Name)
			region := aws.ToString(b.BucketRegion)
			if region == "" {
				if region, err = bucketRegion(ctx, c, name); err != nil {
					return nil, err
				}
			}
			out = append(out, ir.NewLiveInstance(TypeS3Bucket, name, map[string]any{
				"region":        region,
				"force_destroy": true,
			}))
		}
	}
	return out, nil
}

func bucketRegion(ctx context.Context, c *Clients, bucket string) (string, error) {
	out, err := c.S3.GetBucketLocation(ctx, &s3.GetBucketLocationInput{Bucket: aws.String(bucket)})
	if err != nil {
		return "", fmt.Errorf("failed to get location of bucket %s: %w", bucket, err)
	}
	switch loc := string(out.LocationConstraint); loc {
	case "":
		return DefaultRegion, nil
	case "EU":
		return "eu-west-1", nil
	default:
		return loc, nil
	}
}

func isBucketNotFound(err error) bool {
	var nsb *s3types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode() == "NotFound" || ae.ErrorCode() == "NoSuchBucket"
	}
	return false
}
