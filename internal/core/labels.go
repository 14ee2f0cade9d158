// Package core defines core types.
package core

// DropReason is a metric label value describing why a packet was discarded.
type DropReason string

// Drop reasons following the {stage}_{cause} naming convention.
const (
	DropNotIPv6         DropReason = "header_not_ipv6"
	DropTruncated       DropReason = "header_truncated"
	DropPayloadLength   DropReason = "header_payload_length"
	DropParamProblem    DropReason = "header_param_problem"
	DropUnknownOption   DropReason = "option_unknown_discard"
	DropNotForwardable  DropReason = "forward_not_permitted"
	DropForwardPolicy   DropReason = "forward_policy"
	DropNoRoute         DropReason = "forward_no_route"
	DropBufferLimit     DropReason = "forward_buffer_limit"
	DropHopLimit        DropReason = "forward_hop_limit"
	DropRoutingTarget   DropReason = "routing_bad_target"
	DropSecurityPolicy  DropReason = "security_policy"
	DropNoNextHeader    DropReason = "no_next_header"
	DropFragmentRate    DropReason = "fragment_rate_limited"
	DropFragmentOverlap DropReason = "fragment_overlap"
	DropFragmentInvalid DropReason = "fragment_invalid"
	DropReassemblyQuota DropReason = "reassembly_quota"
	DropReassemblySize  DropReason = "reassembly_size"
	DropDeferQueueFull  DropReason = "defer_queue_full"
	DropOther           DropReason = "other"
)
