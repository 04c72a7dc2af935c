package dlc

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"depotkit/internal/installer"
	"depotkit/internal/logx"
	"depotkit/internal/region"
	"depotkit/internal/source"
	"depotkit/internal/steam"
	"depotkit/internal/steamapi"
)

// fakeMeta answers both the info API and the store appdetails endpoint.
// Even-numbered IDs carry a depot (paid), odd ones do not.
func fakeMeta(t *testing.T) *steamapi.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/v1/info/"):
			id := strings.TrimPrefix(r.URL.Path, "/v1/info/")
			n, _ := strconv.Atoi(id)
			if n%2 == 0 {
				fmt.Fprintf(w, `{"data":{%q:{"depots":{"9%s":{"manifests":{"public":{"download":"1"}}}}}}}`, id, id)
			} else {
				fmt.Fprintf(w, `{"data":{%q:{}}}`, id)
			}
		case r.URL.Path == "/api/appdetails":
			id := r.URL.Query().Get("appids")
			fmt.Fprintf(w, `{%q:{"success":true,"data":{"name":"DLC Pack %s"}}}`, id, id)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	api := steamapi.New(srv.Client(), logx.Nop())
	api.InfoBase = srv.URL
	api.StoreBase = srv.URL
	api.Limiter = rate.NewLimiter(rate.Inf, 1)
	return api
}

func TestClassifyBatchesAndProgress(t *testing.T) {
	r := NewResolver(fakeMeta(t), nil, nil, logx.Nop())
	r.Pause = time.Millisecond
	pauses := 0
	r.sleep = func(time.Duration) { pauses++ }

	ids := make([]string, 0, 23)
	for i := 0; i < 23; i++ {
		ids = append(ids, strconv.Itoa(100+i))
	}

	var calls []int
	cands, err := r.Classify(context.Background(), ids, func(done, total int, _ Candidate) {
		if total != 23 {
			t.Fatalf("total wrong: %d", total)
		}
		calls = append(calls, done)
	})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if len(calls) != 23 {
		t.Fatalf("expected 23 progress calls, got %d", len(calls))
	}
	for i, done := range calls {
		if done != i+1 {
			t.Fatalf("progress not strictly increasing: %v", calls)
		}
	}
	// 23 items at batch size 10 means two inter-batch pauses
	if pauses != 2 {
		t.Fatalf("expected 2 pauses for 3 batches, got %d", pauses)
	}
	if len(cands) != 23 {
		t.Fatalf("expected 23 candidates, got %d", len(cands))
	}
}

func TestClassifySplitsFreeAndPaid(t *testing.T) {
	r := NewResolver(fakeMeta(t), nil, nil, logx.Nop())
	r.Pause = 0

	cands, err := r.Classify(context.Background(), []string{"100", "101"}, nil)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates, got %+v", cands)
	}
	if !cands[0].Paid || cands[1].Paid {
		t.Fatalf("free/paid split wrong: %+v", cands)
	}
	if cands[0].Name != "DLC Pack 100" {
		t.Fatalf("name lookup wrong: %+v", cands[0])
	}
}

func TestClassifySkipsFailedLookups(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/v1/info/")
		if id == "200" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, `{"data":{%q:{}}}`, id)
	}))
	defer srv.Close()
	api := steamapi.New(srv.Client(), logx.Nop())
	api.InfoBase = srv.URL
	api.StoreBase = srv.URL
	api.Limiter = rate.NewLimiter(rate.Inf, 1)

	r := NewResolver(api, nil, nil, logx.Nop())
	r.Pause = 0

	progressed := 0
	cands, err := r.Classify(context.Background(), []string{"200", "201"}, func(done, total int, _ Candidate) {
		progressed++
	})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if len(cands) != 1 || cands[0].AppID != "201" {
		t.Fatalf("failed lookup must be dropped: %+v", cands)
	}
	if progressed != 2 {
		t.Fatalf("progress must fire for failed items too, got %d", progressed)
	}
}

func TestInstallAllRecordsFailuresAndContinues(t *testing.T) {
	const keyVDF = "\"depots\"\n{\n\t\"731\"\n\t{\n\t\t\"DecryptionKey\"\t\t\"DEADBEEF\"\n\t}\n}\n"
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/repos/org/hub/branches/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"commit":{"sha":"abc","commit":{"tree":{"url":"%s/tree"},"author":{"date":"2024-06-01T10:00:00Z"}}}}`, srv.URL)
	})
	mux.HandleFunc("/tree", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"tree":[{"path":"key.vdf","type":"blob"}]}`)
	})
	mux.HandleFunc("/raw/key.vdf", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, keyVDF)
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	loc := source.NewLocator(srv.Client(), "", region.NewGate(srv.Client(), logx.Nop()), logx.Nop())
	loc.APIBase = srv.URL
	loc.RawURLs = func(_ context.Context, _, _, path string) []string {
		return []string{srv.URL + "/raw/" + path}
	}
	// a conflict-profile writer refuses every commit with a non-recoverable
	// failure; the pass must still cover the remaining items
	w := installer.New(steam.Session{Root: t.TempDir(), Profile: steam.ProfileConflict}, t.TempDir(), nil, logx.Nop())

	r := NewResolver(nil, loc, w, logx.Nop())
	cands := []Candidate{
		{AppID: "730", Name: "A", Paid: true},
		{AppID: "732", Name: "B", Paid: true},
	}
	descs := []source.Descriptor{{Name: "hub", Kind: source.KindRepoTree, Repo: "org/hub"}}

	progressed := 0
	sum, err := r.InstallAll(context.Background(), "700", descs, cands, installer.Options{}, func(done, total int, _ Candidate) {
		if total != 2 {
			t.Fatalf("total wrong: %d", total)
		}
		progressed++
	})
	if err != nil {
		t.Fatalf("per-item failures must not abort the pass: %v", err)
	}
	if len(sum.Failed) != 2 || sum.Failed[0] != "730" || sum.Failed[1] != "732" {
		t.Fatalf("both items must be recorded failed: %+v", sum)
	}
	if len(sum.Installed) != 0 {
		t.Fatalf("nothing may report installed: %+v", sum)
	}
	if progressed != 2 {
		t.Fatalf("progress must fire for failed items too, got %d", progressed)
	}
}

func TestClassifyHonorsCancellation(t *testing.T) {
	r := NewResolver(fakeMeta(t), nil, nil, logx.Nop())
	r.Pause = 0
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Classify(ctx, []string{"100"}, nil); err == nil {
		t.Fatalf("expected cancellation error")
	}
}
