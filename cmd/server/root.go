package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Brownie44l1/chainrad/internal/artifacts"
	"github.com/Brownie44l1/chainrad/internal/config"
	"github.com/Brownie44l1/chainrad/internal/logging"
	"github.com/Brownie44l1/chainrad/internal/metrics"
	"github.com/Brownie44l1/chainrad/internal/model"
)

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "chainrad",
		Short:         "Chest radiograph finding classifier",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(root.PersistentFlags())
	root.AddCommand(serveCommand(), predictCommand(), extractCommand(), diseasesCommand())
	return root
}

// app holds everything a command needs once the session is ready.
type app struct {
	settings  *config.Settings
	log       *zap.Logger
	registry  *prometheus.Registry
	session   *model.Session
	predictor *model.Predictor
}

func bootstrap(cmd *cobra.Command) (*app, error) {
	settings, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	log, err := logging.New(settings.Log.Dev, settings.Log.Level)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry)
	if err != nil {
		return nil, err
	}

	loader := artifacts.New(settings.ArtifactsConfig(), log)
	session := model.NewSession(settings.SessionConfig(), loader,
		model.WithLogger(log), model.WithMetrics(m))
	log.Info("loading models",
		zap.String("metadata", settings.MetadataPath),
		zap.String("models", settings.ModelDir),
		zap.String("accelerator", settings.ONNX.Accelerator))
	if err := session.Setup(); err != nil {
		_ = log.Sync()
		return nil, fmt.Errorf("failed to set up session: %w", err)
	}

	opts := settings.PredictorOptions()
	opts.Logger = log
	opts.Metrics = m
	return &app{
		settings:  settings,
		log:       log,
		registry:  registry,
		session:   session,
		predictor: model.NewPredictor(session, opts),
	}, nil
}

func (a *app) Close() {
	if err := a.session.Close(); err != nil {
		a.log.Warn("failed to release models", zap.Error(err))
	}
	_ = a.log.Sync()
}
