// Package pipeline runs ordered Casper transaction steps: build, sign,
// assemble, submit, wait. Progress only moves forward and nothing already
// submitted is rolled back.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"anchorebridge/deploy"
	"anchorebridge/metrics"
	"anchorebridge/signer"
	"anchorebridge/types"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidConfig = errors.New("pipeline: invalid config")
	ErrEmptyPlan     = errors.New("pipeline: empty plan")
	ErrNotConnected  = errors.New("pipeline: signer not connected")
)

// Step is one contract call
type Step struct {
	Action  string // entry point
	Target  deploy.ContractRef
	Args    deploy.Args
	Payment *big.Int // motes
}

// Plan is an immutable ordered list of steps
type Plan struct {
	steps []Step
}

func NewPlan(steps ...Step) (Plan, error) {
	if len(steps) == 0 {
		return Plan{}, ErrEmptyPlan
	}
	cp := make([]Step, len(steps))
	for i, s := range steps {
		if s.Action == "" {
			return Plan{}, fmt.Errorf("%w: step %d has no action", ErrInvalidConfig, i)
		}
		if s.Payment == nil || s.Payment.Sign() <= 0 {
			return Plan{}, fmt.Errorf("%w: step %d has no payment", ErrInvalidConfig, i)
		}
		s.Args = append(deploy.Args(nil), s.Args...)
		s.Payment = new(big.Int).Set(s.Payment)
		cp[i] = s
	}
	return Plan{steps: cp}, nil
}

func (p Plan) Len() int {
	return len(p.steps)
}

func (p Plan) Step(i int) Step {
	return p.steps[i]
}

func (p Plan) Actions() []string {
	out := make([]string, len(p.steps))
	for i, s := range p.steps {
		out[i] = s.Action
	}
	return out
}

type Status string

const (
	StatusIdle       Status = "idle"
	StatusRunning    Status = "running"
	StatusStepFailed Status = "step_failed"
	StatusComplete   Status = "complete"
)

type StepResult struct {
	Index      int
	Action     string
	Target     string
	DeployHash string
	Confirmed  bool
}

// State belongs to a single run
type State struct {
	CurrentStep int
	Status      Status
	LastError   error
	LastTxID    string
	Submitted   []StepResult
}

// Report describes what reached the chain, for callers that must handle
// a partially applied plan.
func (s State) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "status=%s step=%d", s.Status, s.CurrentStep)
	for _, r := range s.Submitted {
		fmt.Fprintf(&b, "\n  #%d %s on %s deploy=%s confirmed=%t", r.Index, r.Action, r.Target, r.DeployHash, r.Confirmed)
	}
	if s.LastError != nil {
		fmt.Fprintf(&b, "\n  failed: %v", s.LastError)
	}
	return b.String()
}

type Submitter interface {
	Submit(ctx context.Context, d *deploy.Deploy) (string, error)
}

// Waiter blocks until a deploy has executed, an execution failure is an error
type Waiter interface {
	Wait(ctx context.Context, deployHash string) error
}

type Resolver interface {
	ResolvePackage(ctx context.Context, pkg deploy.ContractRef) (deploy.ContractRef, error)
}

type Config struct {
	ChainName       string
	TTL             time.Duration
	GasPrice        uint64
	ResolvePackages bool // swap package refs for the current contract hash before building
	NoWait          bool // stop after submission, confirmation is tracked elsewhere
	Now             func() time.Time
}

type Executor struct {
	cfg       Config
	submitter Submitter
	waiter    Waiter
	resolver  Resolver
	logger    zerolog.Logger
}

func NewExecutor(cfg Config, submitter Submitter, waiter Waiter, resolver Resolver) (*Executor, error) {
	if strings.TrimSpace(cfg.ChainName) == "" {
		return nil, fmt.Errorf("%w: chain name is required", ErrInvalidConfig)
	}
	if submitter == nil {
		return nil, fmt.Errorf("%w: submitter is required", ErrInvalidConfig)
	}
	if waiter == nil && !cfg.NoWait {
		return nil, fmt.Errorf("%w: waiter is required unless NoWait is set", ErrInvalidConfig)
	}
	if cfg.ResolvePackages && resolver == nil {
		return nil, fmt.Errorf("%w: resolver is required to resolve packages", ErrInvalidConfig)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = deploy.DefaultTTL
	}
	if cfg.GasPrice == 0 {
		cfg.GasPrice = deploy.DefaultGasPrice
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Executor{
		cfg:       cfg,
		submitter: submitter,
		waiter:    waiter,
		resolver:  resolver,
		logger:    log.With().Str("component", "pipeline").Logger(),
	}, nil
}

// WithNoWait returns a copy of e that does not wait for execution
func (e *Executor) WithNoWait() *Executor {
	cp := *e
	cp.cfg.NoWait = true
	return &cp
}

// At returns a copy of e stamping every deploy with t. Deterministic
// signatures then give the same deploy hash when a run is repeated.
func (e *Executor) At(t time.Time) *Executor {
	cp := *e
	cp.cfg.Now = func() time.Time { return t }
	return &cp
}

// Run executes plan with s. The returned state is never shared.
func (e *Executor) Run(ctx context.Context, plan Plan, s signer.Signer) State {
	state := State{Status: StatusIdle}
	if plan.Len() == 0 {
		return fail(state, ErrEmptyPlan)
	}
	state.Status = StatusRunning

	pubHex, err := e.connect(ctx, s)
	if err != nil {
		return fail(state, err)
	}
	pub, err := deploy.ParsePublicKey(pubHex)
	if err != nil {
		return fail(state, err)
	}

	for i := 0; i < plan.Len(); i++ {
		state.CurrentStep = i
		step := plan.Step(i)
		logger := e.logger.With().Int("step", i).Str("action", step.Action).Logger()

		done := metrics.StartStepTimer(step.Action)
		res, err := e.runStep(ctx, step, pub, s, logger)
		done(err)
		if res.DeployHash != "" {
			res.Index = i
			state.LastTxID = res.DeployHash
			state.Submitted = append(state.Submitted, res)
		}
		if err != nil {
			logger.Warn().Err(err).Msg("step failed, halting plan")
			return fail(state, err)
		}
	}

	state.CurrentStep = plan.Len()
	state.Status = StatusComplete
	return state
}

func (e *Executor) connect(ctx context.Context, s signer.Signer) (string, error) {
	connected, err := s.IsConnected(ctx)
	if err != nil {
		return "", err
	}
	if !connected {
		connected, err = s.RequestConnection(ctx)
		if err != nil {
			return "", err
		}
		if !connected {
			return "", fmt.Errorf("%w: %w", types.ErrSignerCancelled, ErrNotConnected)
		}
	}
	return s.ActivePublicKey(ctx)
}

// runStep returns the step result with a deploy hash once the deploy was
// accepted by the node, even when waiting for it fails afterwards.
func (e *Executor) runStep(ctx context.Context, step Step, pub deploy.PublicKey, s signer.Signer, logger zerolog.Logger) (StepResult, error) {
	res := StepResult{Action: step.Action, Target: step.Target.String()}

	target := step.Target
	if target.Package && e.cfg.ResolvePackages {
		resolved, err := e.resolver.ResolvePackage(ctx, target)
		if err != nil {
			return res, err
		}
		target = resolved
	}

	payment, err := deploy.StandardPayment(step.Payment)
	if err != nil {
		return res, err
	}
	d, err := deploy.New(deploy.Params{
		Account:   pub,
		ChainName: e.cfg.ChainName,
		TTL:       e.cfg.TTL,
		GasPrice:  e.cfg.GasPrice,
		Timestamp: e.cfg.Now(),
	}, payment, deploy.ContractCall(target, step.Action, step.Args))
	if err != nil {
		return res, err
	}
	envelope, err := d.Envelope()
	if err != nil {
		return res, err
	}

	sig, err := s.Sign(ctx, envelope, pub.Hex())
	if err != nil {
		return res, err
	}
	if sig.Cancelled {
		return res, types.ErrSignerCancelled
	}
	signed, err := deploy.Attach(envelope, pub.Hex(), sig.Signature)
	if err != nil {
		return res, err
	}

	hash, err := e.submitter.Submit(ctx, signed)
	if err != nil {
		return res, err
	}
	res.DeployHash = hash
	logger.Info().Str("deploy", hash).Msg("step submitted")

	if e.cfg.NoWait {
		return res, nil
	}
	if err := e.waiter.Wait(ctx, hash); err != nil {
		return res, err
	}
	res.Confirmed = true
	return res, nil
}

func fail(state State, err error) State {
	state.Status = StatusStepFailed
	state.LastError = err
	return state
}
