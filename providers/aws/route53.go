package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/aws/smithy-go"

	"github.com/picklr-io/sweep/internal/ir"
	"github.com/picklr-io/sweep/internal/logging"
	"github.com/picklr-io/sweep/pkg/sdk"
)

// recordSetWaitTimeout bounds how long apply waits for a change to reach INSYNC.
const recordSetWaitTimeout = 5 * time.Minute

// RecordSetConfig is the desired configuration of an aws_rrset. The record
// type, name and optional set identifier come from the resource name,
// "<TYPE> <name> [<set identifier>]".
type RecordSetConfig struct {
	Zone  string       `json:"zone"`
	TTL   int64        `json:"ttl"`
	Value []string     `json:"value"`
	Alias *AliasTarget `json:"alias,omitempty"`
	Wait  bool         `json:"wait,omitempty"`
	Routing
}

// Routing holds the policy fields of a record set with a set identifier.
// Route53 matches all of them on delete.
type Routing struct {
	Weight        *int64 `json:"weight,omitempty"`
	Region        string `json:"region,omitempty"`
	Failover      string `json:"failover,omitempty"`
	HealthCheckID string `json:"health_check_id,omitempty"`
}

func (r Routing) applyTo(rs *types.ResourceRecordSet, setID string) {
	if setID == "" {
		return
	}
	rs.SetIdentifier = aws.String(setID)
	rs.Weight = r.Weight
	if r.Region != "" {
		rs.Region = types.ResourceRecordSetRegion(r.Region)
	}
	if r.Failover != "" {
		rs.Failover = types.ResourceRecordSetFailover(r.Failover)
	}
	if r.HealthCheckID != "" {
		rs.HealthCheckId = aws.String(r.HealthCheckID)
	}
}

type AliasTarget struct {
	DNSName              string `json:"dnsName"`
	HostedZoneID         string `json:"hostedZoneId"`
	EvaluateTargetHealth bool   `json:"evaluateTargetHealth"`
}

// RecordSetState is recorded after apply. Observed instances carry the
// same keys, so either can drive a delete.
type RecordSetState struct {
	ID            string       `json:"id"`
	Zone          string       `json:"zone"`
	ZoneID        string       `json:"zone_id"`
	TTL           int64        `json:"ttl"`
	Value         []string     `json:"value"`
	Alias         *AliasTarget `json:"alias,omitempty"`
	SetIdentifier string       `json:"set_identifier,omitempty"`
	Wait          bool         `json:"wait,omitempty"`
	Routing
}

// splitRecordSetName parses "<TYPE> <name> [<set identifier>]" and
// normalizes the record name to its fully qualified form.
func splitRecordSetName(name string) (rrType types.RRType, rrName, setID string, err error) {
	parts := strings.Fields(name)
	if len(parts) != 2 && len(parts) != 3 {
		return "", "", "", fmt.Errorf(`record set name %q must be in the form "<type> <name> [<set identifier>]", e.g. "CNAME foo.example.com."`, name)
	}
	if len(parts) == 3 {
		setID = parts[2]
	}
	return types.RRType(strings.ToUpper(parts[0])), fqdn(parts[1]), setID, nil
}

func recordSetName(typ types.RRType, name, setID string) string {
	if setID != "" {
		return fmt.Sprintf("%s %s %s", typ, name, setID)
	}
	return fmt.Sprintf("%s %s", typ, name)
}

func fqdn(name string) string {
	if strings.HasSuffix(name, ".") {
		return name
	}
	return name + "."
}

// unescapeRecordName decodes the \ddd octal escapes Route53 uses for
// characters such as '*'.
func unescapeRecordName(name string) string {
	if !strings.Contains(name, `\`) {
		return name
	}
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		if name[i] == '\\' && i+3 < len(name) {
			if n, err := strconv.ParseUint(name[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(n))
				i += 3
				continue
			}
		}
		b.WriteByte(name[i])
	}
	return b.String()
}

func (p *Provider) planRecordSet(req *sdk.PlanRequest) (*sdk.PlanResponse, error) {
	if _, _, _, err := splitRecordSetName(req.Name); err != nil {
		return nil, err
	}
	if req.DesiredConfigJSON != nil {
		var desired RecordSetConfig
		if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
			return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
		}
		if desired.Zone == "" {
			return nil, fmt.Errorf("record set %s: zone is required", req.Name)
		}
	}
	return sdk.PlanByComparison(req)
}

func findHostedZone(ctx context.Context, c *Clients, zone string) (*types.HostedZone, error) {
	zone = fqdn(zone)
	pager := route53.NewListHostedZonesPaginator(c.Route53, &route53.ListHostedZonesInput{})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list hosted zones: %w", err)
		}
		for i := range page.HostedZones {
			if strings.EqualFold(aws.ToString(page.HostedZones[i].Name), zone) {
				return &page.HostedZones[i], nil
			}
		}
	}
	return nil, fmt.Errorf("hosted zone %s not found", zone)
}

func (p *Provider) applyRecordSet(ctx context.Context, c *Clients, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	rrType, rrName, setID, err := splitRecordSetName(req.Name)
	if err != nil {
		return nil, err
	}

	var desired RecordSetConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	zone, err := findHostedZone(ctx, c, desired.Zone)
	if err != nil {
		return nil, err
	}

	recordSet := &types.ResourceRecordSet{
		Name: aws.String(rrName),
		Type: rrType,
	}
	desired.Routing.applyTo(recordSet, setID)
	if desired.Alias != nil {
		recordSet.AliasTarget = &types.AliasTarget{
			DNSName:              aws.String(desired.Alias.DNSName),
			HostedZoneId:         aws.String(desired.Alias.HostedZoneID),
			EvaluateTargetHealth: desired.Alias.EvaluateTargetHealth,
		}
	} else {
		recordSet.TTL = aws.Int64(desired.TTL)
		for _, v := range desired.Value {
			recordSet.ResourceRecords = append(recordSet.ResourceRecords, types.ResourceRecord{Value: aws.String(v)})
		}
	}

	resp, err := c.Route53.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: zone.Id,
		ChangeBatch: &types.ChangeBatch{
			Changes: []types.Change{{
				Action:            types.ChangeActionUpsert,
				ResourceRecordSet: recordSet,
			}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert record set: %w", err)
	}

	if desired.Wait && resp.ChangeInfo != nil {
		waiter := route53.NewResourceRecordSetsChangedWaiter(c.Route53)
		if err := waiter.Wait(ctx, &route53.GetChangeInput{Id: resp.ChangeInfo.Id}, recordSetWaitTimeout); err != nil {
			return nil, fmt.Errorf("waiting for record set %s: %w", req.Name, err)
		}
	}

	id := fmt.Sprintf("%s:%s:%s", aws.ToString(zone.Id), rrName, rrType)
	if setID != "" {
		id += ":" + setID
	}
	stateJSON, err := json.Marshal(RecordSetState{
		ID:            id,
		Zone:          aws.ToString(zone.Name),
		ZoneID:        aws.ToString(zone.Id),
		TTL:           desired.TTL,
		Value:         desired.Value,
		Alias:         desired.Alias,
		SetIdentifier: setID,
		Wait:          desired.Wait,
		Routing:       desired.Routing,
	})
	if err != nil {
		return nil, err
	}
	return &sdk.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func (p *Provider) deleteRecordSet(ctx context.Context, c *Clients, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	rrType, rrName, setID, err := splitRecordSetName(req.Name)
	if err != nil {
		return nil, err
	}

	var current RecordSetState
	if err := json.Unmarshal(req.CurrentStateJSON, &current); err != nil {
		return nil, fmt.Errorf("failed to unmarshal current state: %w", err)
	}

	zoneID := current.ZoneID
	if zoneID == "" {
		zone, err := findHostedZone(ctx, c, current.Zone)
		if err != nil {
			return nil, err
		}
		zoneID = aws.ToString(zone.Id)
	}

	recordSet := &types.ResourceRecordSet{
		Name: aws.String(rrName),
		Type: rrType,
	}
	if setID == "" {
		setID = current.SetIdentifier
	}
	current.Routing.applyTo(recordSet, setID)
	if current.Alias != nil {
		recordSet.AliasTarget = &types.AliasTarget{
			DNSName:              aws.String(current.Alias.DNSName),
			HostedZoneId:         aws.String(current.Alias.HostedZoneID),
			EvaluateTargetHealth: current.Alias.EvaluateTargetHealth,
		}
	} else {
		recordSet.TTL = aws.Int64(current.TTL)
		for _, v := range current.Value {
			recordSet.ResourceRecords = append(recordSet.ResourceRecords, types.ResourceRecord{Value: aws.String(v)})
		}
	}

	_, err = c.Route53.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(zoneID),
		ChangeBatch: &types.ChangeBatch{
			Changes: []types.Change{{
				Action:            types.ChangeActionDelete,
				ResourceRecordSet: recordSet,
			}},
		},
	})
	if err != nil {
		if isRecordNotFound(err) {
			logging.Info("record set already gone", "name", req.Name)
			return &sdk.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to delete record set: %w", err)
	}
	return &sdk.DeleteResponse{}, nil
}

func isRecordNotFound(err error) bool {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode() == "InvalidChangeBatch" && strings.Contains(ae.ErrorMessage(), "not found")
	}
	return false
}

// listRecordSets returns every record set of every hosted zone visible to
// the account.
func (p *Provider) listRecordSets(ctx context.Context, c *Clients) ([]ir.LiveInstance, error) {
	var out []ir.LiveInstance

	pager := route53.NewListHostedZonesPaginator(c.Route53, &route53.ListHostedZonesInput{})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list hosted zones: %w", err)
		}
		for _, zone := range page.HostedZones {
			records, err := listZoneRecordSets(ctx, c, zone)
			if err != nil {
				return nil, err
			}
			out = append(out, records...)
		}
	}
	return out, nil
}

func listZoneRecordSets(ctx context.Context, c *Clients, zone types.HostedZone) ([]ir.LiveInstance, error) {
	var out []ir.LiveInstance
	input := &route53.ListResourceRecordSetsInput{HostedZoneId: zone.Id}

	for {
		page, err := c.Route53.ListResourceRecordSets(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to list record sets of zone %s: %w", aws.ToString(zone.Name), err)
		}
		for _, rr := range page.ResourceRecordSets {
			out = append(out, recordSetInstance(zone, rr))
		}
		if !page.IsTruncated {
			return out, nil
		}
		input.StartRecordName = page.NextRecordName
		input.StartRecordType = page.NextRecordType
		input.StartRecordIdentifier = page.NextRecordIdentifier
	}
}

func recordSetInstance(zone types.HostedZone, rr types.ResourceRecordSet) ir.LiveInstance {
	name := recordSetName(rr.Type, unescapeRecordName(aws.ToString(rr.Name)), aws.ToString(rr.SetIdentifier))

	values := make([]string, 0, len(rr.ResourceRecords))
	for _, r := range rr.ResourceRecords {
		values = append(values, aws.ToString(r.Value))
	}

	attrs := map[string]any{
		"zone":    aws.ToString(zone.Name),
		"zone_id": aws.ToString(zone.Id),
		"value":   stringsToAny(values),
	}
	if rr.TTL != nil {
		attrs["ttl"] = *rr.TTL
	}
	if rr.SetIdentifier != nil {
		attrs["set_identifier"] = *rr.SetIdentifier
	}
	if rr.Weight != nil {
		attrs["weight"] = *rr.Weight
	}
	if rr.Region != "" {
		attrs["region"] = string(rr.Region)
	}
	if rr.Failover != "" {
		attrs["failover"] = string(rr.Failover)
	}
	if rr.HealthCheckId != nil {
		attrs["health_check_id"] = *rr.HealthCheckId
	}
	if rr.AliasTarget != nil {
		attrs["alias"] = map[string]any{
			"dnsName":              aws.ToString(rr.AliasTarget.DNSName),
			"hostedZoneId":         aws.ToString(rr.AliasTarget.HostedZoneId),
			"evaluateTargetHealth": rr.AliasTarget.EvaluateTargetHealth,
		}
	}
	return ir.NewLiveInstance(TypeRRSet, name, attrs)
}

// validateRecordSetAbsent rejects the SOA and NS records at a zone apex,
// which Route53 refuses to delete.
func validateRecordSetAbsent(inst ir.LiveInstance) error {
	rrType, rrName, _, err := splitRecordSetName(inst.Ref.Name)
	if err != nil {
		return err
	}
	if rrType != types.RRTypeSoa && rrType != types.RRTypeNs {
		return nil
	}
	zone, _ := inst.Attributes["zone"].(string)
	if zone != "" && strings.EqualFold(fqdn(zone), rrName) {
		return fmt.Errorf("%s record at the apex of zone %s is managed by Route53", rrType, zone)
	}
	return nil
}
