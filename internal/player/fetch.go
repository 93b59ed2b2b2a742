package player

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/dkeye/Stagehand/internal/domain"
)

// HTTPFetcher resolves asset ids to URLs through the server's asset listing
// and downloads them. The listing is cached until Invalidate.
type HTTPFetcher struct {
	Base     string
	Campaign func() domain.CampaignID
	Client   *http.Client

	mu   sync.Mutex
	urls map[string]string
}

func (f *HTTPFetcher) Invalidate() {
	f.mu.Lock()
	f.urls = nil
	f.mu.Unlock()
}

func (f *HTTPFetcher) Fetch(ctx context.Context, assetID string) ([]byte, error) {
	u, err := f.resolve(ctx, assetID)
	if err != nil {
		return nil, err
	}
	return f.get(ctx, u)
}

func (f *HTTPFetcher) resolve(ctx context.Context, assetID string) (string, error) {
	f.mu.Lock()
	u, ok := f.urls[assetID]
	cached := f.urls != nil
	f.mu.Unlock()
	if ok {
		return u, nil
	}
	if cached {
		return "", fmt.Errorf("asset %s: %w", assetID, domain.ErrNotFound)
	}

	cid := f.Campaign()
	body, err := f.get(ctx, fmt.Sprintf("%s/api/campaigns/%s/assets", f.Base, url.PathEscape(string(cid))))
	if err != nil {
		return "", err
	}
	var list struct {
		Assets []domain.Asset `json:"assets"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return "", fmt.Errorf("decode asset list: %w", err)
	}
	urls := make(map[string]string, len(list.Assets))
	for _, a := range list.Assets {
		urls[a.ID] = a.URL
	}
	f.mu.Lock()
	f.urls = urls
	f.mu.Unlock()

	u, ok = urls[assetID]
	if !ok {
		return "", fmt.Errorf("asset %s: %w", assetID, domain.ErrNotFound)
	}
	return u, nil
}

func (f *HTTPFetcher) get(ctx context.Context, raw string) ([]byte, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if !ref.IsAbs() {
		base, err := url.Parse(f.Base)
		if err != nil {
			return nil, err
		}
		ref = base.ResolveReference(ref)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.String(), nil)
	if err != nil {
		return nil, err
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", ref.Redacted(), resp.Status)
	}
	return io.ReadAll(resp.Body)
}
