package main

import (
	"context"
	"strings"
	"time"

	"mercator-hq/costgate/pkg/config"
	"mercator-hq/costgate/pkg/executor"
	"mercator-hq/costgate/pkg/ledger/storage"
	"mercator-hq/costgate/pkg/server"
)

// adminCallBudget bounds one admin API call including retries.
const adminCallBudget = 10 * time.Second

// adminClient talks to a running "costgate serve" over its admin API.
type adminClient struct {
	baseURL string
	token   string
	exec    *executor.Executor
}

func newAdminClient(addr string, cfg *config.Config) *adminClient {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	execCfg := cfg.Executor.ToExecutor()
	execCfg.DefaultBudget = adminCallBudget
	execCfg.DefaultMaxAttempts = 3

	return &adminClient{
		baseURL: strings.TrimRight(addr, "/"),
		token:   cfg.Server.AdminToken,
		exec:    executor.New(execCfg),
	}
}

func (c *adminClient) headers() map[string]string {
	if c.token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.token}
}

// Document fetches the ledger document.
func (c *adminClient) Document(ctx context.Context) (*storage.Document, error) {
	doc := storage.NewDocument()
	err := c.exec.ExecuteInto(ctx, executor.Request{
		Method:  "GET",
		URL:     c.baseURL + "/v1/ledger",
		Headers: c.headers(),
	}, doc)
	if err != nil {
		return nil, err
	}
	return doc.Normalize(), nil
}

// SetHardStop sets or clears a bucket's hard stop through the server.
func (c *adminClient) SetHardStop(ctx context.Context, req server.HardStopRequest) error {
	return c.exec.ExecuteInto(ctx, executor.Request{
		Method:  "POST",
		URL:     c.baseURL + "/v1/hardstop",
		Headers: c.headers(),
		Body:    req,
	}, nil)
}

func (c *adminClient) Close() error {
	return c.exec.Close()
}
