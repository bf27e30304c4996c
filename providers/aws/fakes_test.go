package aws

import (
	"context"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/picklr-io/sweep/internal/ir"
)

type fakeRoute53 struct {
	mu       sync.Mutex
	zones    []r53types.HostedZone
	records  map[string][]r53types.ResourceRecordSet
	pageSize int
	changes  []*route53.ChangeResourceRecordSetsInput
	err      error
}

func newFakeRoute53() *fakeRoute53 {
	return &fakeRoute53{
		zones: []r53types.HostedZone{
			{Id: aws.String("/hostedzone/Z1"), Name: aws.String("example.com.")},
		},
		records: map[string][]r53types.ResourceRecordSet{
			"/hostedzone/Z1": {
				{Name: aws.String("example.com."), Type: r53types.RRTypeNs, TTL: aws.Int64(172800),
					ResourceRecords: []r53types.ResourceRecord{{Value: aws.String("ns-1.awsdns-00.com.")}}},
				{Name: aws.String("example.com."), Type: r53types.RRTypeSoa, TTL: aws.Int64(900),
					ResourceRecords: []r53types.ResourceRecord{{Value: aws.String("ns-1.awsdns-00.com. hostmaster 1 7200 900 1209600 86400")}}},
				{Name: aws.String("www.example.com."), Type: r53types.RRTypeA, TTL: aws.Int64(300),
					ResourceRecords: []r53types.ResourceRecord{{Value: aws.String("10.0.0.1")}}},
				{Name: aws.String(`\052.example.com.`), Type: r53types.RRTypeCname, TTL: aws.Int64(60),
					ResourceRecords: []r53types.ResourceRecord{{Value: aws.String("www.example.com.")}}},
			},
		},
	}
}

func (f *fakeRoute53) ListHostedZones(ctx context.Context, params *route53.ListHostedZonesInput, optFns ...func(*route53.Options)) (*route53.ListHostedZonesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &route53.ListHostedZonesOutput{HostedZones: f.zones}, nil
}

func (f *fakeRoute53) ListResourceRecordSets(ctx context.Context, params *route53.ListResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ListResourceRecordSetsOutput, error) {
	all := f.records[aws.ToString(params.HostedZoneId)]
	start := 0
	if params.StartRecordName != nil {
		for i, rr := range all {
			if aws.ToString(rr.Name) == aws.ToString(params.StartRecordName) && rr.Type == params.StartRecordType &&
				aws.ToString(rr.SetIdentifier) == aws.ToString(params.StartRecordIdentifier) {
				start = i
				break
			}
		}
	}
	size := f.pageSize
	if size == 0 {
		size = len(all)
	}
	end := min(start+size, len(all))
	out := &route53.ListResourceRecordSetsOutput{ResourceRecordSets: all[start:end]}
	if end < len(all) {
		out.IsTruncated = true
		out.NextRecordName = all[end].Name
		out.NextRecordType = all[end].Type
		out.NextRecordIdentifier = all[end].SetIdentifier
	}
	return out, nil
}

func (f *fakeRoute53) ChangeResourceRecordSets(ctx context.Context, params *route53.ChangeResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.changes = append(f.changes, params)
	return &route53.ChangeResourceRecordSetsOutput{
		ChangeInfo: &r53types.ChangeInfo{Id: aws.String("/change/C1"), Status: r53types.ChangeStatusPending},
	}, nil
}

func (f *fakeRoute53) GetChange(ctx context.Context, params *route53.GetChangeInput, optFns ...func(*route53.Options)) (*route53.GetChangeOutput, error) {
	return &route53.GetChangeOutput{
		ChangeInfo: &r53types.ChangeInfo{Id: params.Id, Status: r53types.ChangeStatusInsync},
	}, nil
}

type fakeBucket struct {
	region   string
	objects  []string
	versions []string
}

type fakeS3 struct {
	mu              sync.Mutex
	buckets         map[string]*fakeBucket
	omitRegion      bool
	locationCalls   int
	deletedObjects  []string
	deleteRegions   []string
	createdRegions  map[string]string
	deleteBucketErr error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		buckets: map[string]*fakeBucket{
			"assets":  {region: "us-east-1"},
			"logs-eu": {region: "eu-west-1", objects: []string{"a.log", "b.log"}, versions: []string{"v1"}},
		},
		createdRegions: map[string]string{},
	}
}

func regionOf(optFns []func(*s3.Options)) string {
	o := s3.Options{}
	for _, fn := range optFns {
		fn(&o)
	}
	return o.Region
}

func (f *fakeS3) ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
	names := make([]string, 0, len(f.buckets))
	for name := range f.buckets {
		names = append(names, name)
	}
	sort.Strings(names)

	out := &s3.ListBucketsOutput{}
	for _, name := range names {
		b := s3types.Bucket{Name: aws.String(name)}
		if !f.omitRegion {
			b.BucketRegion = aws.String(f.buckets[name].region)
		}
		out.Buckets = append(out.Buckets, b)
	}
	return out, nil
}

func (f *fakeS3) GetBucketLocation(ctx context.Context, params *s3.GetBucketLocationInput, optFns ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error) {
	f.locationCalls++
	b, ok := f.buckets[aws.ToString(params.Bucket)]
	if !ok {
		return nil, &s3types.NoSuchBucket{}
	}
	loc := b.region
	if loc == "us-east-1" {
		loc = ""
	}
	return &s3.GetBucketLocationOutput{LocationConstraint: s3types.BucketLocationConstraint(loc)}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if _, ok := f.buckets[aws.ToString(params.Bucket)]; !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(params.Bucket)
	if _, ok := f.buckets[name]; ok {
		return nil, &s3types.BucketAlreadyOwnedByYou{}
	}
	region := regionOf(optFns)
	if params.CreateBucketConfiguration != nil {
		f.createdRegions[name] = string(params.CreateBucketConfiguration.LocationConstraint)
	} else {
		f.createdRegions[name] = ""
	}
	f.buckets[name] = &fakeBucket{region: region}
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) DeleteBucket(ctx context.Context, params *s3.DeleteBucketInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteBucketErr != nil {
		return nil, f.deleteBucketErr
	}
	name := aws.ToString(params.Bucket)
	b, ok := f.buckets[name]
	if !ok {
		return nil, &s3types.NoSuchBucket{}
	}
	if len(b.objects) > 0 || len(b.versions) > 0 {
		return nil, &mockAPIError{code: "BucketNotEmpty"}
	}
	f.deleteRegions = append(f.deleteRegions, regionOf(optFns))
	delete(f.buckets, name)
	return &s3.DeleteBucketOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	b := f.buckets[aws.ToString(params.Bucket)]
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, key := range b.objects {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(key)})
	}
	return out, nil
}

func (f *fakeS3) ListObjectVersions(ctx context.Context, params *s3.ListObjectVersionsInput, optFns ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error) {
	b := f.buckets[aws.ToString(params.Bucket)]
	out := &s3.ListObjectVersionsOutput{IsTruncated: aws.Bool(false)}
	for _, v := range b.versions {
		out.Versions = append(out.Versions, s3types.ObjectVersion{Key: aws.String("a.log"), VersionId: aws.String(v)})
	}
	return out, nil
}

func (f *fakeS3) DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.buckets[aws.ToString(params.Bucket)]
	for _, obj := range params.Delete.Objects {
		id := aws.ToString(obj.Key)
		if obj.VersionId != nil {
			id += "@" + aws.ToString(obj.VersionId)
		}
		f.deletedObjects = append(f.deletedObjects, id)
	}
	b.objects = nil
	b.versions = nil
	return &s3.DeleteObjectsOutput{}, nil
}

type mockAPIError struct {
	code    string
	message string
}

func (e *mockAPIError) Error() string                 { return e.code + ": " + e.message }
func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return e.message }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

func newTestProvider(r *fakeRoute53, s *fakeS3) (*Provider, *int) {
	calls := 0
	p := NewWithFactory(func(ctx context.Context, cred *ir.Credential) (*Clients, error) {
		calls++
		region := DefaultRegion
		if cred != nil && cred.Region != "" {
			region = cred.Region
		}
		return &Clients{Route53: r, S3: s, Region: region}, nil
	})
	return p, &calls
}
