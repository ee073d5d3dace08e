// Package client talks to a running prediction server.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"click-predict/internal/ml"
	"click-predict/internal/server"
	"click-predict/internal/session"

	"github.com/go-resty/resty/v2"
)

var (
	// ErrValidation is returned when the server rejects a request body.
	ErrValidation = errors.New("request rejected by server")
	// ErrMismatch is returned when the server disagrees with a local artifact.
	ErrMismatch = errors.New("server disagrees with local model")
)

type Client struct {
	base string
	rest *resty.Client
}

func New(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second)
	}
	r.SetHeader("Accept", "application/json")
	return &Client{base: strings.TrimRight(base, "/"), rest: r}
}

// Status returns the server's liveness message.
func (c *Client) Status(ctx context.Context) (string, error) {
	var msg string
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&msg).
		Get(c.base + "/status")
	if err != nil {
		return "", fmt.Errorf("status request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("status: server returned %d: %s", resp.StatusCode(), resp.String())
	}
	return msg, nil
}

// Version returns the metadata of the served model.
func (c *Client) Version(ctx context.Context) (ml.Metadata, error) {
	var md ml.Metadata
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&md).
		Get(c.base + "/version")
	if err != nil {
		return ml.Metadata{}, fmt.Errorf("version request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return ml.Metadata{}, fmt.Errorf("version: server returned %d: %s", resp.StatusCode(), resp.String())
	}
	return md, nil
}

// Predict scores rec remotely. A 422 answer is reported as ErrValidation
// wrapping the server's details.
func (c *Client) Predict(ctx context.Context, rec session.Record) (server.PredictionResult, error) {
	var (
		res     server.PredictionResult
		invalid server.ValidationError
	)
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(server.NewPredictionRequest(rec)).
		SetResult(&res).
		SetError(&invalid).
		Post(c.base + "/predict")
	if err != nil {
		return server.PredictionResult{}, fmt.Errorf("predict request failed: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		return res, nil
	case http.StatusUnprocessableEntity:
		return server.PredictionResult{}, fmt.Errorf("%w: %s", ErrValidation, invalid.Error())
	default:
		return server.PredictionResult{}, fmt.Errorf("predict: server returned %d: %s", resp.StatusCode(), resp.String())
	}
}

// Verify checks that the server is up, serves the model described by a and
// labels rec the way a does. It returns the server's label.
func (c *Client) Verify(ctx context.Context, a *ml.Artifact, rec session.Record) (int, error) {
	if _, err := c.Status(ctx); err != nil {
		return 0, err
	}

	md, err := c.Version(ctx)
	if err != nil {
		return 0, err
	}
	if !sameMetadata(md, a.Metadata) {
		return 0, fmt.Errorf("%w: server serves %s %s trained %s (ROC AUC %.6f), local artifact is %s %s trained %s (ROC AUC %.6f)",
			ErrMismatch,
			md.Name, md.Version, md.Date.Format(time.RFC3339), md.ROCAUC,
			a.Metadata.Name, a.Metadata.Version, a.Metadata.Date.Format(time.RFC3339), a.Metadata.ROCAUC)
	}

	want, err := a.Pipeline.Predict(rec)
	if err != nil {
		return 0, fmt.Errorf("local prediction: %w", err)
	}
	res, err := c.Predict(ctx, rec)
	if err != nil {
		return 0, err
	}
	if res.Result != want {
		return res.Result, fmt.Errorf("%w: server predicts %d, local model %d", ErrMismatch, res.Result, want)
	}
	return res.Result, nil
}

func sameMetadata(a, b ml.Metadata) bool {
	return a.Name == b.Name &&
		a.Author == b.Author &&
		a.Version == b.Version &&
		a.Type == b.Type &&
		a.ROCAUC == b.ROCAUC &&
		a.Date.Equal(b.Date)
}
