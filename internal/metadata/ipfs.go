package metadata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/emperorhan/nft-indexer/internal/domain/indexerr"
	"github.com/emperorhan/nft-indexer/internal/domain/model"
	"github.com/emperorhan/nft-indexer/internal/metrics"
)

// invalidPathMarker appears in 200 responses from gateways that could not
// resolve the requested content.
const invalidPathMarker = "invalid ipfs path: "

const canonicalGateway = "https://ipfs.io"

var errNoGateways = errors.New("no ipfs gateways configured")

type ipfsPath struct {
	cid  string
	path string
}

// parseIPFS accepts ipfs://<cid>/<path> and ipfs://ipfs/<cid>/<path>.
func parseIPFS(uri string) (ipfsPath, error) {
	rest := uri[len("ipfs:"):]
	rest = strings.TrimPrefix(rest, "//")
	rest = strings.TrimPrefix(rest, "ipfs/")

	cid, path := rest, ""
	if idx := strings.Index(rest, "/"); idx >= 0 {
		cid, path = rest[:idx], rest[idx:]
	}
	if cid == "" {
		return ipfsPath{}, fmt.Errorf("missing cid")
	}
	return ipfsPath{cid: cid, path: path}, nil
}

func (p ipfsPath) on(base string) string {
	return base + "/ipfs/" + p.cid + p.path
}

// gatewayResult is one gateway's outcome. body is kept for diagnostics even
// when the response was rejected.
type gatewayResult struct {
	url  string
	md   *model.Metadata
	body []byte
	err  error
}

func (f *Fetcher) fetchIPFS(ctx context.Context, uri string) (*model.Metadata, error) {
	p, err := parseIPFS(uri)
	if err != nil {
		return nil, indexerr.MetadataFetch(uri, "", "malformed ipfs uri", err)
	}
	canonical := p.on(canonicalGateway)
	if len(f.gateways) == 0 {
		return nil, indexerr.MetadataFetch(canonical, "", "ipfs fetch failed", errNoGateways)
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, indexerr.MetadataFetch(canonical, "", "rate limiter wait", err)
	}

	var results []gatewayResult
	if f.race {
		res, all := f.raceGateways(ctx, p)
		if res != nil {
			return res.md, nil
		}
		results = all
	} else {
		for _, gw := range f.gateways {
			res := f.tryGateway(ctx, gw, p)
			if res.err == nil {
				return res.md, nil
			}
			results = append(results, res)
			if ctx.Err() != nil {
				break
			}
		}
	}

	errs := make([]error, 0, len(results))
	var body string
	for _, res := range results {
		errs = append(errs, fmt.Errorf("%s: %w", res.url, res.err))
		if body == "" && len(res.body) > 0 {
			body = string(res.body)
		}
	}
	return nil, indexerr.MetadataFetch(canonical, body, "all ipfs gateways failed", errors.Join(errs...))
}

// raceGateways queries all gateways concurrently. The first valid response
// wins and the remaining requests are cancelled. When none succeeds, every
// gateway's result is returned in configuration order.
func (f *Fetcher) raceGateways(ctx context.Context, p ipfsPath) (*gatewayResult, []gatewayResult) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type indexed struct {
		idx int
		res gatewayResult
	}
	ch := make(chan indexed, len(f.gateways))
	for i, gw := range f.gateways {
		go func(i int, gw *gateway) {
			ch <- indexed{idx: i, res: f.tryGateway(raceCtx, gw, p)}
		}(i, gw)
	}

	all := make([]gatewayResult, len(f.gateways))
	for range f.gateways {
		r := <-ch
		if r.res.err == nil {
			cancel()
			return &r.res, nil
		}
		all[r.idx] = r.res
	}
	return nil, all
}

func (f *Fetcher) tryGateway(ctx context.Context, gw *gateway, p ipfsPath) gatewayResult {
	url := p.on(gw.base)
	res := gatewayResult{url: url}

	if err := gw.breaker.Allow(); err != nil {
		metrics.MetadataGatewayRequests.WithLabelValues(gw.base, "breaker_open").Inc()
		res.err = err
		return res
	}

	status, body, err := f.get(ctx, url)
	res.body = body
	switch {
	case err != nil && ctx.Err() != nil:
		gw.breaker.Release()
		metrics.MetadataGatewayRequests.WithLabelValues(gw.base, "cancelled").Inc()
		res.err = err
		return res
	case err != nil:
		gw.breaker.RecordFailure()
		metrics.MetadataGatewayRequests.WithLabelValues(gw.base, "error").Inc()
		res.err = err
		return res
	case status >= http.StatusInternalServerError:
		gw.breaker.RecordFailure()
		metrics.MetadataGatewayRequests.WithLabelValues(gw.base, "server_error").Inc()
		res.err = fmt.Errorf("unexpected status %d", status)
		return res
	}

	gw.breaker.RecordSuccess()
	if status != http.StatusOK {
		metrics.MetadataGatewayRequests.WithLabelValues(gw.base, "bad_status").Inc()
		res.err = fmt.Errorf("unexpected status %d", status)
		return res
	}
	if strings.Contains(string(body), invalidPathMarker) {
		metrics.MetadataGatewayRequests.WithLabelValues(gw.base, "invalid_path").Inc()
		res.err = fmt.Errorf("gateway reported invalid ipfs path")
		return res
	}
	md, err := parseDocument(url, body)
	if err != nil {
		metrics.MetadataGatewayRequests.WithLabelValues(gw.base, "bad_body").Inc()
		res.err = err
		return res
	}

	metrics.MetadataGatewayRequests.WithLabelValues(gw.base, "ok").Inc()
	res.md = md
	return res
}
