// Package commands implements the alpen CLI.
package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alpenglow/alpenglow/pkg/backends"
	"github.com/alpenglow/alpenglow/pkg/config"
	"github.com/alpenglow/alpenglow/pkg/engine"
	"github.com/alpenglow/alpenglow/pkg/policy"
	"github.com/alpenglow/alpenglow/pkg/telemetry"
)

// Exit codes: 0 converged, 1 execution failure, 2 validation failure.
const (
	exitOK         = 0
	exitExecution  = 1
	exitValidation = 2
)

var (
	// Global flags
	logLevel      string
	logFormat     string
	policyPaths   []string
	dbPath        string
	metricsAddr   string
	traceExporter string
	traceEndpoint string
)

// appVersion is stamped by newRootCommand for telemetry attribution.
var appVersion = "dev"

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context, version, commit, buildDate string) int {
	rootCmd := newRootCommand(version, commit, buildDate)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var validationErr *engine.ValidationError
		if errors.As(err, &validationErr) {
			for _, v := range validationErr.Violations {
				fmt.Fprintf(os.Stderr, "validation: %s\n", v)
			}
			return exitValidation
		}
		var blocked *policyBlockedError
		if errors.As(err, &blocked) {
			for _, v := range blocked.violations {
				fmt.Fprintf(os.Stderr, "policy %s: %s\n", v.Policy, v.Message)
			}
			return exitValidation
		}
		var notConverged *notConvergedError
		if errors.As(err, &notConverged) {
			return exitExecution
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitExecution
	}
	return exitOK
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	appVersion = version
	rootCmd := &cobra.Command{
		Use:   "alpen",
		Short: "Alpenglow - declarative system provisioning for Alpine Linux",
		Long: `Alpenglow converges a machine toward a declared desired state:
packages, services, repositories, files, and firewall rules.

Each run inspects current state, diffs it against the declarations,
plans the minimal ordered set of changes, and applies them through
the native system tools (apk, OpenRC, ufw). Running twice against an
unchanged system is a no-op.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().StringSliceVar(&policyPaths, "policy", nil, "policy file or directory (repeatable)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDBPath(), "run history database path")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-listen", "", "expose Prometheus metrics on this address")
	rootCmd.PersistentFlags().StringVar(&traceExporter, "trace", "", "enable tracing with this exporter (otlp, stdout)")
	rootCmd.PersistentFlags().StringVar(&traceEndpoint, "trace-endpoint", "localhost:4317", "OTLP trace collector endpoint")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newPolicyCommand())

	return rootCmd
}

func defaultDBPath() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + "/alpenglow/history.db"
	}
	return "alpenglow-history.db"
}

// policyBlockedError carries the blocking policy violations to Execute.
type policyBlockedError struct {
	violations []policy.Violation
}

func (e *policyBlockedError) Error() string {
	return fmt.Sprintf("plan blocked by %d policy violations", len(e.violations))
}

// notConvergedError signals a completed run that left failures behind.
type notConvergedError struct {
	report *engine.Report
}

func (e *notConvergedError) Error() string {
	return fmt.Sprintf("run did not fully converge: %d failed, %d skipped",
		e.report.Failed, e.report.SkippedDependency+e.report.SkippedAborted)
}

// runtime bundles the shared wiring every command needs.
type runtime struct {
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	loader  *config.Loader
	policy  *policy.Engine
}

func newRuntime(ctx context.Context) (*runtime, error) {
	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  logLevel,
		Format: logFormat,
		Output: "stderr",
	})
	if err != nil {
		return nil, fmt.Errorf("configuring logging: %w", err)
	}

	metricsCfg := telemetry.DefaultConfig().Metrics
	if metricsAddr != "" {
		metricsCfg.Enabled = true
		metricsCfg.ListenAddress = metricsAddr
	}
	metrics, err := telemetry.NewMetrics(metricsCfg)
	if err != nil {
		return nil, fmt.Errorf("configuring metrics: %w", err)
	}
	if err := metrics.StartMetricsServer(); err != nil {
		return nil, err
	}

	tracingCfg := telemetry.DefaultConfig().Tracing
	if traceExporter != "" {
		tracingCfg.Enabled = true
		tracingCfg.Exporter = traceExporter
		tracingCfg.Endpoint = traceEndpoint
	}
	tracer, err := telemetry.NewTracer(tracingCfg, "alpenglow", appVersion, "production")
	if err != nil {
		return nil, fmt.Errorf("configuring tracing: %w", err)
	}

	policyEngine, err := policy.NewEngine(logger)
	if err != nil {
		return nil, fmt.Errorf("configuring policy engine: %w", err)
	}
	if len(policyPaths) > 0 {
		if err := policyEngine.LoadPaths(ctx, policyPaths); err != nil {
			return nil, err
		}
	}

	return &runtime{
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
		loader:  config.NewLoader(),
		policy:  policyEngine,
	}, nil
}

// close flushes pending telemetry before the process exits.
func (rt *runtime) close(ctx context.Context) {
	if err := rt.tracer.Shutdown(ctx); err != nil {
		rt.logger.WithError(err).Warn("trace shutdown failed")
	}
}

// loadModel loads declaration files into a validated model.
func (rt *runtime) loadModel(ctx context.Context, files []string) (*engine.Model, error) {
	resources, err := rt.loader.Load(ctx, files...)
	if err != nil {
		return nil, err
	}
	return engine.Load(resources)
}

// buildPlan inspects current state and diffs it against the model.
func (rt *runtime) buildPlan(ctx context.Context, model *engine.Model, resolver engine.BackendResolver) (*engine.Plan, error) {
	inspector := engine.NewInspector(resolver, rt.logger,
		engine.WithInspectorMetrics(rt.metrics),
		engine.WithInspectorTracer(rt.tracer))
	observations, err := inspector.InspectAll(ctx, model)
	if err != nil {
		return nil, err
	}
	return engine.NewPlanner(rt.logger).Build(model, observations)
}

// gatePlan evaluates policies; blocking violations abort, warnings print.
func (rt *runtime) gatePlan(ctx context.Context, plan *engine.Plan) error {
	result, err := rt.policy.EvaluatePlan(ctx, plan)
	if err != nil {
		return fmt.Errorf("evaluating policies: %w", err)
	}
	for _, v := range result.Violations {
		if v.Severity == policy.SeverityWarning {
			fmt.Fprintf(os.Stderr, "warning: policy %s: %s\n", v.Policy, v.Message)
		}
	}
	if !result.Allowed {
		return &policyBlockedError{violations: result.Errors()}
	}
	return nil
}

func newRegistry() (*backends.Registry, error) {
	return backends.DefaultRegistry(nil)
}
