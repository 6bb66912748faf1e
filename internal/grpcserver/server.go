// Package grpcserver implements the EscrowService gRPC server.
//
// It delegates all business logic to escrow.Engine and handles
// only the gRPC transport concerns: caller resolution, error mapping,
// and conversion between request messages and engine arguments.
package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"jobmate/escrow-service/internal/auth"
	"jobmate/escrow-service/internal/escrow"
)

// ErrorDomain is reported in the ErrorInfo detail of every domain error.
const ErrorDomain = "escrow.jobmate"

// Error reasons attached to status errors.
const (
	ReasonJobNotFound      = "JOB_NOT_FOUND"
	ReasonAuthorization    = "AUTHORIZATION"
	ReasonState            = "STATE"
	ReasonValue            = "VALUE"
	ReasonExternalTransfer = "EXTERNAL_TRANSFER"
	ReasonProgramCaller    = "PROGRAM_CALLER"
)

// Server implements EscrowServiceServer.
type Server struct {
	svc *escrow.Engine
}

// NewServer constructs a gRPC Server backed by the given engine.
func NewServer(svc *escrow.Engine) *Server {
	return &Server{svc: svc}
}

var empty = &emptypb.Empty{}

// ─── Jobs ────────────────────────────────────────────────────────────────────

// PostJob escrows the deposit and opens a job for the caller.
func (s *Server) PostJob(ctx context.Context, req *PostJobRequest) (*PostJobResponse, error) {
	caller, err := callerFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	id, err := s.svc.PostJob(ctx, caller.ID, req.Amount, req.ExpiresAt)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &PostJobResponse{JobID: id}, nil
}

// CancelJob refunds a job before its deadline.
func (s *Server) CancelJob(ctx context.Context, req *JobRequest) (*emptypb.Empty, error) {
	caller, err := callerFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.svc.CancelJob(ctx, caller.ID, req.JobID); err != nil {
		return nil, toGRPCError(err)
	}
	return empty, nil
}

// ClaimUnfinishedJob refunds a job after its deadline.
func (s *Server) ClaimUnfinishedJob(ctx context.Context, req *JobRequest) (*emptypb.Empty, error) {
	caller, err := callerFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.svc.ClaimUnfinishedJob(ctx, caller.ID, req.JobID); err != nil {
		return nil, toGRPCError(err)
	}
	return empty, nil
}

// SubmitWork applies the caller to a job.
func (s *Server) SubmitWork(ctx context.Context, req *JobRequest) (*emptypb.Empty, error) {
	caller, err := s.freelancerFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.svc.SubmitWork(ctx, caller.ID, req.JobID); err != nil {
		return nil, toGRPCError(err)
	}
	return empty, nil
}

// ApproveWork selects the winning applicant.
func (s *Server) ApproveWork(ctx context.Context, req *ApproveWorkRequest) (*emptypb.Empty, error) {
	caller, err := callerFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.svc.ApproveWork(ctx, caller.ID, req.JobID, escrow.Identity(req.Freelancer)); err != nil {
		return nil, toGRPCError(err)
	}
	return empty, nil
}

// ─── Freelancers ─────────────────────────────────────────────────────────────

// Withdraw pays out the caller's earnings.
func (s *Server) Withdraw(ctx context.Context, _ *emptypb.Empty) (*escrow.Withdrawal, error) {
	caller, err := s.freelancerFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	w, err := s.svc.Withdraw(ctx, caller.ID)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &w, nil
}

// RegisterFreelancer registers the caller.
func (s *Server) RegisterFreelancer(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	caller, err := s.freelancerFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.svc.RegisterFreelancer(ctx, caller.ID); err != nil {
		return nil, toGRPCError(err)
	}
	return empty, nil
}

// ApproveFreelancer is called by the approval authority.
func (s *Server) ApproveFreelancer(ctx context.Context, req *FreelancerRequest) (*emptypb.Empty, error) {
	caller, err := callerFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.svc.ApproveFreelancer(ctx, caller.ID, escrow.Identity(req.Freelancer)); err != nil {
		return nil, toGRPCError(err)
	}
	return empty, nil
}

// ─── Administration ──────────────────────────────────────────────────────────

func (s *Server) SetWithdrawFee(ctx context.Context, req *SetWithdrawFeeRequest) (*emptypb.Empty, error) {
	return s.admin(ctx, func(caller escrow.Identity) error {
		return s.svc.SetWithdrawFee(ctx, caller, req.Rate)
	})
}

func (s *Server) SetMaxExpiry(ctx context.Context, req *SetMaxExpiryRequest) (*emptypb.Empty, error) {
	return s.admin(ctx, func(caller escrow.Identity) error {
		// converting first would let an overflowing value wrap into range
		if req.Seconds <= 0 || req.Seconds > int64(escrow.MaxExpiryBound/time.Second) {
			return &escrow.ValueError{Msg: fmt.Sprintf("max expiry of %d seconds is outside [%s, %s]",
				req.Seconds, escrow.MinExpiryBound, escrow.MaxExpiryBound)}
		}
		return s.svc.SetMaxExpiry(ctx, caller, time.Duration(req.Seconds)*time.Second)
	})
}

func (s *Server) SetApprovalAuthority(ctx context.Context, req *SetApprovalAuthorityRequest) (*emptypb.Empty, error) {
	return s.admin(ctx, func(caller escrow.Identity) error {
		return s.svc.SetApprovalAuthority(ctx, caller, escrow.Identity(req.Authority))
	})
}

func (s *Server) SetMinDeposit(ctx context.Context, req *SetMinDepositRequest) (*emptypb.Empty, error) {
	return s.admin(ctx, func(caller escrow.Identity) error {
		return s.svc.SetMinDeposit(ctx, caller, req.Amount)
	})
}

// SweepFees moves accrued withdrawal fees to the owner.
func (s *Server) SweepFees(ctx context.Context, _ *emptypb.Empty) (*SweepFeesResponse, error) {
	caller, err := callerFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	amount, err := s.svc.SweepFees(ctx, caller.ID)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &SweepFeesResponse{Amount: amount}, nil
}

func (s *Server) admin(ctx context.Context, fn func(caller escrow.Identity) error) (*emptypb.Empty, error) {
	caller, err := callerFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	if err := fn(caller.ID); err != nil {
		return nil, toGRPCError(err)
	}
	return empty, nil
}

// ─── Queries ─────────────────────────────────────────────────────────────────

func (s *Server) GetJob(_ context.Context, req *JobRequest) (*escrow.Job, error) {
	job, err := s.svc.Job(req.JobID)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &job, nil
}

func (s *Server) GetApplicants(_ context.Context, req *JobRequest) (*ApplicantsResponse, error) {
	applicants, err := s.svc.Applicants(req.JobID)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &ApplicantsResponse{Applicants: applicants}, nil
}

// ListJobs returns the jobs in the requested state within [startId, endId].
func (s *Server) ListJobs(_ context.Context, req *ListJobsRequest) (*ListJobsResponse, error) {
	state, err := escrow.ParseState(req.State)
	if err != nil {
		return nil, toGRPCError(&escrow.ValueError{Msg: err.Error()})
	}
	jobs, err := s.svc.JobsInState(state, req.StartID, req.EndID)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &ListJobsResponse{Jobs: jobs}, nil
}

func (s *Server) GetFreelancer(_ context.Context, req *FreelancerRequest) (*escrow.FreelancerInfo, error) {
	info := s.svc.Freelancer(escrow.Identity(req.Freelancer))
	return &info, nil
}

func (s *Server) GetConfig(_ context.Context, _ *emptypb.Empty) (*ConfigResponse, error) {
	cfg := s.svc.Config()
	return &ConfigResponse{
		Variant:           s.svc.Variant().Name,
		WithdrawFee:       cfg.WithdrawFee,
		MaxExpirySeconds:  int64(cfg.MaxExpiry / time.Second),
		ApprovalAuthority: string(cfg.ApprovalAuthority),
		MinDeposit:        cfg.MinDeposit,
		AccruedFees:       s.svc.AccruedFees(),
	}, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// callerFromCtx returns the caller resolved by the auth interceptor.
func callerFromCtx(ctx context.Context) (auth.Caller, error) {
	c, ok := auth.CallerFrom(ctx)
	if !ok || c.ID.IsZero() {
		return auth.Caller{}, status.Error(codes.Unauthenticated, "missing caller identity")
	}
	return c, nil
}

// freelancerFromCtx additionally refuses callers verified as programs when the
// engine's variant requires it.
func (s *Server) freelancerFromCtx(ctx context.Context) (auth.Caller, error) {
	c, err := callerFromCtx(ctx)
	if err != nil {
		return c, err
	}
	if s.svc.Variant().RejectProgramCallers && c.Kind == auth.KindProgram {
		return auth.Caller{}, withReason(codes.PermissionDenied, "program callers are not accepted", ReasonProgramCaller)
	}
	return c, nil
}

// toGRPCError maps domain errors to gRPC status errors carrying an
// ErrorInfo detail with the distinguishing reason.
func toGRPCError(err error) error {
	var (
		ae *escrow.AuthorizationError
		se *escrow.StateError
		ve *escrow.ValueError
		xe *escrow.ExternalTransferError
	)
	switch {
	case errors.Is(err, escrow.ErrJobNotFound):
		return withReason(codes.NotFound, err.Error(), ReasonJobNotFound)
	case errors.As(err, &ae):
		return withReason(codes.PermissionDenied, ae.Msg, ReasonAuthorization)
	case errors.As(err, &se):
		return withReason(codes.FailedPrecondition, se.Msg, ReasonState)
	case errors.As(err, &ve):
		return withReason(codes.InvalidArgument, ve.Msg, ReasonValue)
	case errors.As(err, &xe):
		return withReason(codes.Aborted, xe.Error(), ReasonExternalTransfer)
	}
	return status.Error(codes.Internal, "internal server error")
}

func withReason(code codes.Code, msg, reason string) error {
	st := status.New(code, msg)
	if detailed, err := st.WithDetails(&errdetails.ErrorInfo{Reason: reason, Domain: ErrorDomain}); err == nil {
		st = detailed
	}
	return st.Err()
}

// ReasonOf returns the ErrorInfo reason carried by a status error, if any.
func ReasonOf(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok {
			return info.Reason
		}
	}
	return ""
}
