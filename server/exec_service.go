package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/movasm/journal"
	"github.com/chazu/movasm/vm"
)

// ExecServiceRunProcedure is the Connect procedure for ExecService.Run.
const ExecServiceRunProcedure = "/movasm.v1.ExecService/Run"

// RunRequest asks the service to run one program image.
type RunRequest struct {
	Image     []byte `json:"image"`
	Input     string `json:"input,omitempty"`
	StepLimit uint64 `json:"stepLimit,omitempty"`
	TimeoutMs int64  `json:"timeoutMs,omitempty"`
	Snapshot  bool   `json:"snapshot,omitempty"`
}

// RunResponse reports a finished run. Error is set when the machine
// halted on a fault or hit its step limit.
type RunResponse struct {
	RunID     string  `json:"runId,omitempty"`
	Output    string  `json:"output"`
	Registers []int64 `json:"registers"`
	Steps     uint64  `json:"steps"`
	State     string  `json:"state"`
	Error     string  `json:"error,omitempty"`
	Snapshot  []byte  `json:"snapshot,omitempty"`
}

// ExecService implements the ExecService Connect handler.
type ExecService struct {
	runner    *Runner
	journal   *journal.Journal
	stepLimit uint64
	timeout   time.Duration
	log       commonlog.Logger
}

// NewExecService creates an ExecService. stepLimit and timeout are upper
// bounds on what a request may ask for; zero means unbounded.
func NewExecService(runner *Runner, j *journal.Journal, stepLimit uint64, timeout time.Duration) *ExecService {
	return &ExecService{
		runner:    runner,
		journal:   j,
		stepLimit: stepLimit,
		timeout:   timeout,
		log:       commonlog.GetLogger("movasm.exec"),
	}
}

// NewExecServiceHandler returns the path and handler to mount s on a mux.
func NewExecServiceHandler(s *ExecService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)
	return ExecServiceRunProcedure, connect.NewUnaryHandler(ExecServiceRunProcedure, s.Run, opts...)
}

// Run executes the requested image on the runner pool.
func (s *ExecService) Run(
	ctx context.Context,
	req *connect.Request[RunRequest],
) (*connect.Response[RunResponse], error) {
	msg := req.Msg
	if len(msg.Image) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("image is required"))
	}

	stepLimit := msg.StepLimit
	if s.stepLimit != 0 && (stepLimit == 0 || stepLimit > s.stepLimit) {
		stepLimit = s.stepLimit
	}
	timeout := time.Duration(msg.TimeoutMs) * time.Millisecond
	if s.timeout > 0 && (timeout <= 0 || timeout > s.timeout) {
		timeout = s.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	m, err := s.runner.Run(ctx, Job{
		Image: msg.Image,
		Input: []byte(msg.Input),
		Opts:  []vm.RunOption{vm.WithStepLimit(stepLimit)},
	})
	if m == nil {
		return nil, connectError(err)
	}

	resp := &RunResponse{
		Registers: registersSlice(m.Registers()),
		Steps:     m.Steps(),
		State:     m.State().String(),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	if msg.Snapshot {
		if resp.Snapshot, err = vm.MarshalSnapshot(m.Snapshot()); err != nil {
			return nil, connect.NewError(connect.CodeInternal, err)
		}
	}
	if s.journal != nil {
		resp.RunID = s.record(ctx, msg.Image, m)
	}
	resp.Output = m.ReadOutputString()

	if errors.Is(m.Err(), vm.ErrInterrupted) {
		s.log.Infof("run interrupted after %d steps", m.Steps())
		return nil, connectError(fmt.Errorf("after %d steps at pc=%d: %w", m.Steps(), m.PC(), m.Err()))
	}
	return connect.NewResponse(resp), nil
}

func (s *ExecService) record(ctx context.Context, image []byte, m *vm.Machine) string {
	entry, err := journal.NewEntry(journal.OriginExec, image, m, m.Err())
	if err == nil {
		// The request context may already be past its deadline.
		var id string
		id, err = s.journal.Record(context.WithoutCancel(ctx), entry)
		if err == nil {
			return id
		}
	}
	s.log.Warningf("journal: %s", err.Error())
	return ""
}

// connectError maps runner and machine errors to Connect codes.
func connectError(err error) error {
	switch {
	case errors.Is(err, vm.ErrInvalidProgramLength), errors.Is(err, vm.ErrOutOfBounds):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, context.Canceled), errors.Is(err, vm.ErrInterrupted):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, ErrBusy):
		return connect.NewError(connect.CodeResourceExhausted, err)
	case errors.Is(err, ErrRunnerStopped):
		return connect.NewError(connect.CodeUnavailable, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}

func registersSlice(r [vm.RegisterCount]int64) []int64 {
	return append([]int64(nil), r[:]...)
}

// ExecServiceClient calls ExecService over Connect.
type ExecServiceClient struct {
	run *connect.Client[RunRequest, RunResponse]
}

// NewExecServiceClient creates a client for the service at baseURL.
func NewExecServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *ExecServiceClient {
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &ExecServiceClient{
		run: connect.NewClient[RunRequest, RunResponse](httpClient, baseURL+ExecServiceRunProcedure, opts...),
	}
}

// Run calls ExecService.Run.
func (c *ExecServiceClient) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	resp, err := c.run.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
