package grpcserver

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"

	"jobmate/escrow-service/internal/escrow"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "escrow.v1.EscrowService"

// ─── Messages ────────────────────────────────────────────────────────────────

type PostJobRequest struct {
	Amount    uint64    `json:"amount"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type PostJobResponse struct {
	JobID uint64 `json:"jobId"`
}

type JobRequest struct {
	JobID uint64 `json:"jobId"`
}

type ApproveWorkRequest struct {
	JobID      uint64 `json:"jobId"`
	Freelancer string `json:"freelancer"`
}

type FreelancerRequest struct {
	Freelancer string `json:"freelancer"`
}

type SetWithdrawFeeRequest struct {
	Rate uint16 `json:"rate"`
}

type SetMaxExpiryRequest struct {
	Seconds int64 `json:"seconds"`
}

type SetApprovalAuthorityRequest struct {
	Authority string `json:"authority"`
}

type SetMinDepositRequest struct {
	Amount uint64 `json:"amount"`
}

type ListJobsRequest struct {
	State   string `json:"state"`
	StartID uint64 `json:"startId"`
	EndID   uint64 `json:"endId"`
}

type ListJobsResponse struct {
	Jobs []escrow.Job `json:"jobs"`
}

type ApplicantsResponse struct {
	Applicants []escrow.Identity `json:"applicants"`
}

type SweepFeesResponse struct {
	Amount uint64 `json:"amount"`
}

type ConfigResponse struct {
	Variant           string `json:"variant"`
	WithdrawFee       uint16 `json:"withdrawFee"`
	MaxExpirySeconds  int64  `json:"maxExpirySeconds"`
	ApprovalAuthority string `json:"approvalAuthority"`
	MinDeposit        uint64 `json:"minDeposit"`
	AccruedFees       uint64 `json:"accruedFees"`
}

// ─── Service descriptor ──────────────────────────────────────────────────────

// EscrowServiceServer is the server API of the EscrowService.
type EscrowServiceServer interface {
	PostJob(context.Context, *PostJobRequest) (*PostJobResponse, error)
	CancelJob(context.Context, *JobRequest) (*emptypb.Empty, error)
	ClaimUnfinishedJob(context.Context, *JobRequest) (*emptypb.Empty, error)
	SubmitWork(context.Context, *JobRequest) (*emptypb.Empty, error)
	ApproveWork(context.Context, *ApproveWorkRequest) (*emptypb.Empty, error)
	Withdraw(context.Context, *emptypb.Empty) (*escrow.Withdrawal, error)
	RegisterFreelancer(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	ApproveFreelancer(context.Context, *FreelancerRequest) (*emptypb.Empty, error)
	SetWithdrawFee(context.Context, *SetWithdrawFeeRequest) (*emptypb.Empty, error)
	SetMaxExpiry(context.Context, *SetMaxExpiryRequest) (*emptypb.Empty, error)
	SetApprovalAuthority(context.Context, *SetApprovalAuthorityRequest) (*emptypb.Empty, error)
	SetMinDeposit(context.Context, *SetMinDepositRequest) (*emptypb.Empty, error)
	SweepFees(context.Context, *emptypb.Empty) (*SweepFeesResponse, error)
	GetJob(context.Context, *JobRequest) (*escrow.Job, error)
	GetApplicants(context.Context, *JobRequest) (*ApplicantsResponse, error)
	ListJobs(context.Context, *ListJobsRequest) (*ListJobsResponse, error)
	GetFreelancer(context.Context, *FreelancerRequest) (*escrow.FreelancerInfo, error)
	GetConfig(context.Context, *emptypb.Empty) (*ConfigResponse, error)
}

// ServiceDesc describes the EscrowService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EscrowServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("PostJob", EscrowServiceServer.PostJob),
		unary("CancelJob", EscrowServiceServer.CancelJob),
		unary("ClaimUnfinishedJob", EscrowServiceServer.ClaimUnfinishedJob),
		unary("SubmitWork", EscrowServiceServer.SubmitWork),
		unary("ApproveWork", EscrowServiceServer.ApproveWork),
		unary("Withdraw", EscrowServiceServer.Withdraw),
		unary("RegisterFreelancer", EscrowServiceServer.RegisterFreelancer),
		unary("ApproveFreelancer", EscrowServiceServer.ApproveFreelancer),
		unary("SetWithdrawFee", EscrowServiceServer.SetWithdrawFee),
		unary("SetMaxExpiry", EscrowServiceServer.SetMaxExpiry),
		unary("SetApprovalAuthority", EscrowServiceServer.SetApprovalAuthority),
		unary("SetMinDeposit", EscrowServiceServer.SetMinDeposit),
		unary("SweepFees", EscrowServiceServer.SweepFees),
		unary("GetJob", EscrowServiceServer.GetJob),
		unary("GetApplicants", EscrowServiceServer.GetApplicants),
		unary("ListJobs", EscrowServiceServer.ListJobs),
		unary("GetFreelancer", EscrowServiceServer.GetFreelancer),
		unary("GetConfig", EscrowServiceServer.GetConfig),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "escrow/v1/escrow.proto",
}

// RegisterEscrowServiceServer registers srv on s.
func RegisterEscrowServiceServer(s grpc.ServiceRegistrar, srv EscrowServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unary[Req, Resp any](name string, call func(EscrowServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(EscrowServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(EscrowServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ─── Client ──────────────────────────────────────────────────────────────────

// Client calls the EscrowService using the JSON content-subtype.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a Client over cc.
func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

func invoke[Resp any](ctx context.Context, c *Client, method string, in any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append(opts, grpc.CallContentSubtype(codecName))
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) PostJob(ctx context.Context, in *PostJobRequest, opts ...grpc.CallOption) (*PostJobResponse, error) {
	return invoke[PostJobResponse](ctx, c, "PostJob", in, opts...)
}

func (c *Client) CancelJob(ctx context.Context, in *JobRequest, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c, "CancelJob", in, opts...)
}

func (c *Client) ClaimUnfinishedJob(ctx context.Context, in *JobRequest, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c, "ClaimUnfinishedJob", in, opts...)
}

func (c *Client) SubmitWork(ctx context.Context, in *JobRequest, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c, "SubmitWork", in, opts...)
}

func (c *Client) ApproveWork(ctx context.Context, in *ApproveWorkRequest, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c, "ApproveWork", in, opts...)
}

func (c *Client) Withdraw(ctx context.Context, opts ...grpc.CallOption) (*escrow.Withdrawal, error) {
	return invoke[escrow.Withdrawal](ctx, c, "Withdraw", &emptypb.Empty{}, opts...)
}

func (c *Client) RegisterFreelancer(ctx context.Context, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c, "RegisterFreelancer", &emptypb.Empty{}, opts...)
}

func (c *Client) ApproveFreelancer(ctx context.Context, in *FreelancerRequest, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c, "ApproveFreelancer", in, opts...)
}

func (c *Client) SetWithdrawFee(ctx context.Context, in *SetWithdrawFeeRequest, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c, "SetWithdrawFee", in, opts...)
}

func (c *Client) GetJob(ctx context.Context, in *JobRequest, opts ...grpc.CallOption) (*escrow.Job, error) {
	return invoke[escrow.Job](ctx, c, "GetJob", in, opts...)
}

func (c *Client) GetApplicants(ctx context.Context, in *JobRequest, opts ...grpc.CallOption) (*ApplicantsResponse, error) {
	return invoke[ApplicantsResponse](ctx, c, "GetApplicants", in, opts...)
}

func (c *Client) ListJobs(ctx context.Context, in *ListJobsRequest, opts ...grpc.CallOption) (*ListJobsResponse, error) {
	return invoke[ListJobsResponse](ctx, c, "ListJobs", in, opts...)
}

func (c *Client) GetConfig(ctx context.Context, opts ...grpc.CallOption) (*ConfigResponse, error) {
	return invoke[ConfigResponse](ctx, c, "GetConfig", &emptypb.Empty{}, opts...)
}

func (c *Client) SetMaxExpiry(ctx context.Context, in *SetMaxExpiryRequest, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c, "SetMaxExpiry", in, opts...)
}

func (c *Client) SetApprovalAuthority(ctx context.Context, in *SetApprovalAuthorityRequest, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c, "SetApprovalAuthority", in, opts...)
}

func (c *Client) SetMinDeposit(ctx context.Context, in *SetMinDepositRequest, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c, "SetMinDeposit", in, opts...)
}

func (c *Client) SweepFees(ctx context.Context, opts ...grpc.CallOption) (*SweepFeesResponse, error) {
	return invoke[SweepFeesResponse](ctx, c, "SweepFees", &emptypb.Empty{}, opts...)
}

func (c *Client) GetFreelancer(ctx context.Context, in *FreelancerRequest, opts ...grpc.CallOption) (*escrow.FreelancerInfo, error) {
	return invoke[escrow.FreelancerInfo](ctx, c, "GetFreelancer", in, opts...)
}
