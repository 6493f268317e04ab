package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dgallion1/adgmcheck/internal/advisory"
	"github.com/dgallion1/adgmcheck/internal/checklist"
	"github.com/dgallion1/adgmcheck/internal/classify"
	"github.com/dgallion1/adgmcheck/internal/compliance"
	"github.com/dgallion1/adgmcheck/internal/config"
	"github.com/dgallion1/adgmcheck/internal/metrics"
	"github.com/dgallion1/adgmcheck/internal/parser"
	"github.com/dgallion1/adgmcheck/internal/pipeline"
	"github.com/dgallion1/adgmcheck/internal/retrieval"
	"github.com/dgallion1/adgmcheck/internal/rules"
)

// app holds the wired pipeline shared by every command.
type app struct {
	cfg     config.Config
	log     *slog.Logger
	engine  *pipeline.Engine
	index   *retrieval.Handle
	stats   *advisory.Stats
	model   string
	metrics *metrics.Metrics
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// indexSource maps configuration onto a retrieval source.
func indexSource(cfg config.Config) retrieval.Source {
	src := retrieval.Source{
		SnapshotPath: cfg.CorpusSnapshot,
		CorpusURL:    cfg.CorpusURL,
		CorpusAPIKey: cfg.CorpusAPIKey,
		DatabaseURL:  cfg.DatabaseURL,
		Table:        cfg.CorpusTable,
		Dim:          cfg.EmbedDim,
	}
	if cfg.EmbedProvider == config.EmbedOllama {
		src.Model = cfg.EmbedModel
	} else {
		src.Model = retrieval.HashEmbedder{Dim: cfg.EmbedDim}.Model()
	}
	return src
}

func newEmbedder(cfg config.Config) (retrieval.Embedder, error) {
	if cfg.EmbedProvider == config.EmbedOllama {
		emb, err := retrieval.NewOllamaEmbedder(retrieval.OllamaConfig{Model: cfg.EmbedModel, BaseURL: cfg.OllamaBaseURL})
		if err != nil {
			return nil, err
		}
		return emb, nil
	}
	return retrieval.HashEmbedder{Dim: cfg.EmbedDim}, nil
}

// newCritic builds the configured critic wrapped in retry, rate limiting,
// per-call timeout and latency recording. It returns nil when advisory
// analysis is disabled.
func newCritic(cfg config.Config, stats *advisory.Stats, m *metrics.Metrics, log *slog.Logger) (advisory.Critic, string, func(), error) {
	var base advisory.Critic
	var model string
	closer := func() {}

	switch cfg.LLMProvider {
	case config.ProviderAnthropic:
		c := advisory.NewClaudeCritic(cfg.AnthropicAPIKey, cfg.AnthropicModel)
		base, model, closer = c, c.Model(), c.Close
	case config.ProviderOllama:
		c, err := advisory.NewOllamaCritic(advisory.OllamaConfig{
			Model:       cfg.OllamaModel,
			BaseURL:     cfg.OllamaBaseURL,
			Temperature: 0.1,
			MaxTokens:   2000,
		})
		if err != nil {
			return nil, "", nil, err
		}
		base, model = c, c.Model()
	default:
		return nil, "", closer, nil
	}

	var obs prometheus.Observer
	if m != nil {
		obs = m.AdvisoryLatency()
	}
	critic := advisory.Chain(base,
		advisory.WithRetry(advisory.RetryPolicy{MaxRetries: advisory.MaxRetries, Logger: log}),
		advisory.WithRateLimit(cfg.AdvisoryRate),
		advisory.WithStats(stats, obs),
		advisory.WithTimeout(min(cfg.AdvisoryTimeout, 45*time.Second)),
	)
	return critic, model, closer, nil
}

// newApp wires the pipeline from configuration. A missing or broken corpus
// index is logged, not fatal: checks then run rule-only.
func newApp(ctx context.Context, cfg config.Config, log *slog.Logger, m *metrics.Metrics) (*app, error) {
	a := &app{cfg: cfg, log: log, metrics: m, stats: advisory.NewStats(time.Hour)}

	cls, err := loadClassifier(cfg.ClassifierPath)
	if err != nil {
		return nil, err
	}
	ruleEngine, err := loadRules(cfg.RulesPath)
	if err != nil {
		return nil, err
	}
	verifier, err := loadChecklist(cfg.SignaturesPath)
	if err != nil {
		return nil, err
	}

	a.index = retrieval.NewHandle(nil)
	src := indexSource(cfg)
	if src.Configured() {
		idx, err := retrieval.Open(ctx, src)
		if err != nil {
			log.Warn("corpus index unavailable, advisory checks will degrade", "error", err)
		} else {
			a.index.Swap(idx)
			log.Info("corpus index loaded", "index_version", idx.Version(), "model", idx.Model())
		}
	}

	var retriever *retrieval.Retriever
	critic, model, closeCritic, err := newCritic(cfg, a.stats, m, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeCritic)
	a.model = model
	if critic != nil {
		emb, err := newEmbedder(cfg)
		if err != nil {
			log.Warn("embedder unavailable, advisory checks will degrade", "error", err)
		}
		retriever = retrieval.NewRetriever(a.index, emb)
	}

	checker := compliance.NewChecker(ruleEngine, retriever, critic, compliance.Config{
		EvidenceK:  cfg.EvidenceK,
		MaxClauses: cfg.MaxClauses,
		Timeout:    cfg.AdvisoryTimeout,
	}, log)

	var recorder pipeline.Recorder
	if m != nil {
		recorder = m
	}
	a.engine, err = pipeline.NewEngine(pipeline.EngineOptions{
		Classifier: cls,
		Checker:    checker,
		Verifier:   verifier,
		Index:      a.index,
		Parser:     parser.Options{PDFFallbackPdftotext: cfg.PDFFallbackPdftotext},
		Workers:    cfg.DocWorkers,
		Metrics:    recorder,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func loadClassifier(path string) (*classify.Classifier, error) {
	if path == "" {
		return classify.Default()
	}
	c, err := classify.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load classifier table: %w", err)
	}
	return c, nil
}

func loadRules(path string) (*rules.Engine, error) {
	if path == "" {
		return rules.Default()
	}
	e, err := rules.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load rule table: %w", err)
	}
	return e, nil
}

func loadChecklist(path string) (*checklist.Verifier, error) {
	if path == "" {
		return checklist.Default()
	}
	v, err := checklist.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load process signatures: %w", err)
	}
	return v, nil
}
