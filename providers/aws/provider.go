package aws

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/picklr-io/sweep/internal/ir"
	"github.com/picklr-io/sweep/internal/logging"
	"github.com/picklr-io/sweep/pkg/sdk"
)

const (
	TypeRRSet    = "aws_rrset"
	TypeS3Bucket = "aws_s3_bucket"

	// DefaultRegion is used when neither the credential nor the resource
	// names a region.
	DefaultRegion = "us-east-1"
)

// Route53API is the subset of the Route53 client used by the provider.
type Route53API interface {
	route53.ListHostedZonesAPIClient
	route53.GetChangeAPIClient
	ListResourceRecordSets(ctx context.Context, params *route53.ListResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ListResourceRecordSetsOutput, error)
	ChangeResourceRecordSets(ctx context.Context, params *route53.ChangeResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error)
}

// S3API is the subset of the S3 client used by the provider.
type S3API interface {
	s3.ListBucketsAPIClient
	s3.ListObjectsV2APIClient
	GetBucketLocation(ctx context.Context, params *s3.GetBucketLocationInput, optFns ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	DeleteBucket(ctx context.Context, params *s3.DeleteBucketInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketOutput, error)
	ListObjectVersions(ctx context.Context, params *s3.ListObjectVersionsInput, optFns ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Clients bundles the service clients for one account.
type Clients struct {
	Route53 Route53API
	S3      S3API
	Region  string
}

// ClientFactory builds clients for a credential. A nil credential selects
// the default credential chain.
type ClientFactory func(ctx context.Context, cred *ir.Credential) (*Clients, error)

type Provider struct {
	newClients ClientFactory

	mu      sync.Mutex
	clients map[string]*Clients
}

func New() *Provider {
	return NewWithFactory(LoadClients)
}

// NewWithFactory returns a provider building its clients with f.
func NewWithFactory(f ClientFactory) *Provider {
	return &Provider{
		newClients: f,
		clients:    make(map[string]*Clients),
	}
}

func (p *Provider) Name() string { return "aws" }

func (p *Provider) Types() []ir.ResourceType {
	purgeable := ir.Capabilities{Enumerable: true, Absentable: true}
	return []ir.ResourceType{
		{Name: TypeRRSet, Provider: "aws", Capabilities: purgeable},
		{Name: TypeS3Bucket, Provider: "aws", Capabilities: purgeable},
	}
}

// LoadClients builds real AWS clients. Static keys take precedence over a
// shared config profile.
func LoadClients(ctx context.Context, cred *ir.Credential) (*Clients, error) {
	region := DefaultRegion
	opts := []func(*config.LoadOptions) error{}

	if cred != nil {
		if cred.Region != "" {
			region = cred.Region
		}
		switch {
		case cred.AccessKey != "":
			opts = append(opts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cred.AccessKey, cred.SecretKey, cred.SessionToken),
			))
		case cred.Profile != "":
			opts = append(opts, config.WithSharedConfigProfile(cred.Profile))
		}
	}
	opts = append(opts, config.WithRegion(region))

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	return &Clients{
		Route53: route53.NewFromConfig(cfg),
		S3:      s3.NewFromConfig(cfg),
		Region:  region,
	}, nil
}

func (p *Provider) clientsFor(ctx context.Context, cred *ir.Credential) (*Clients, error) {
	key := ""
	if cred != nil {
		key = cred.Name
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[key]; ok {
		return c, nil
	}
	c, err := p.newClients(ctx, cred)
	if err != nil {
		if key != "" {
			return nil, fmt.Errorf("account %s: %w", key, err)
		}
		return nil, err
	}
	logging.Debug("initialized aws clients", "account", key, "region", c.Region)
	p.clients[key] = c
	return c, nil
}

func (p *Provider) Plan(ctx context.Context, req *sdk.PlanRequest) (*sdk.PlanResponse, error) {
	switch req.Type {
	case TypeRRSet:
		return p.planRecordSet(req)
	case TypeS3Bucket:
		c, err := p.clientsFor(ctx, req.Credential)
		if err != nil {
			return nil, err
		}
		return p.planBucket(ctx, c, req)
	}
	return nil, sdk.UnknownType(req.Type)
}

func (p *Provider) Apply(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	c, err := p.clientsFor(ctx, req.Credential)
	if err != nil {
		return nil, err
	}

	switch req.Type {
	case TypeRRSet:
		return p.applyRecordSet(ctx, c, req)
	case TypeS3Bucket:
		return p.applyBucket(ctx, c, req)
	}
	return nil, sdk.UnknownType(req.Type)
}

func (p *Provider) Delete(ctx context.Context, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	c, err := p.clientsFor(ctx, req.Credential)
	if err != nil {
		return nil, err
	}

	switch req.Type {
	case TypeRRSet:
		return p.deleteRecordSet(ctx, c, req)
	case TypeS3Bucket:
		return p.deleteBucket(ctx, c, req)
	}
	return nil, sdk.UnknownType(req.Type)
}

func (p *Provider) Enumerate(ctx context.Context, req *sdk.EnumerateRequest) (*sdk.EnumerateResponse, error) {
	if req.Type != TypeRRSet && req.Type != TypeS3Bucket {
		return nil, sdk.UnknownType(req.Type)
	}

	c, err := p.clientsFor(ctx, req.Credential)
	if err != nil {
		return nil, err
	}

	var instances []ir.LiveInstance
	if req.Type == TypeRRSet {
		instances, err = p.listRecordSets(ctx, c)
	} else {
		instances, err = p.listBuckets(ctx, c)
	}
	if err != nil {
		return nil, err
	}
	return &sdk.EnumerateResponse{Instances: instances}, nil
}

// ValidateAbsent rejects instances that AWS will refuse to delete.
func (p *Provider) ValidateAbsent(typ string, inst ir.LiveInstance) error {
	if typ == TypeRRSet {
		return validateRecordSetAbsent(inst)
	}
	return nil
}

func withRegion(region string) func(*s3.Options) {
	return func(o *s3.Options) {
		if region != "" {
			o.Region = region
		}
	}
}

// stringsToAny converts a string slice into the []any shape produced by the
// JSON and Pkl decoders so observed attributes compare equal to declared ones.
func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
