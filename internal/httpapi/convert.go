package httpapi

import (
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/types"
)

// ── Verify and issue ─────────────────────────────────────────────────────────

func issueRequestFromProto(p *structpb.Struct) types.IssueRequest {
	fields := p.GetFields()
	return types.IssueRequest{
		WalletAddress: fields["wallet_address"].GetStringValue(),
		EventID:       fields["event_id"].GetStringValue(),

		WaitForEligibility: fields["wait_for_eligibility"].GetBoolValue(),
	}
}

func outcomeToProto(o types.Outcome) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"ok":             structpb.NewBoolValue(o.OK),
		"state":          structpb.NewStringValue(string(o.State)),
		"reason":         structpb.NewStringValue(string(o.Reason)),
		"wallet_address": structpb.NewStringValue(o.WalletAddress),
		"event_id":       structpb.NewStringValue(o.EventID),
		"server_time":    structpb.NewStringValue(o.ServerTime),
	}
	if o.CredentialRef != "" {
		fields["credential_ref"] = structpb.NewStringValue(o.CredentialRef)
	}
	if o.TxHash != "" {
		fields["tx_hash"] = structpb.NewStringValue(o.TxHash)
	}
	if o.Detail != "" {
		fields["detail"] = structpb.NewStringValue(o.Detail)
	}
	if o.TimedOut {
		fields["timed_out"] = structpb.NewBoolValue(true)
	}
	return &structpb.Struct{Fields: fields}
}
