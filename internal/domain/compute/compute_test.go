package compute_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/compute"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/difficulty"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/skill"
	. "github.com/smartystreets/goconvey/convey"
)

func newLocal() *compute.Local {
	c, err := difficulty.NewController(difficulty.DefaultParams())
	if err != nil {
		panic(err)
	}
	return compute.NewLocal(skill.Default(), c)
}

type computerFunc func(ctx context.Context, req compute.Request) (compute.Update, error)

func (f computerFunc) Compute(ctx context.Context, req compute.Request) (compute.Update, error) {
	return f(ctx, req)
}

func TestLocal(t *testing.T) {
	Convey("Given the local computer", t, func() {
		l := newLocal()
		ctx := context.Background()

		Convey("A first success at equal ability predicts one half and raises beta", func() {
			u, err := l.Compute(ctx, compute.Request{Theta: 0.5, BetaOld: 0.5, Success: true, ObservedRate: 1, LastSuccess: true, RecentSuccesses: 1})
			So(err, ShouldBeNil)
			So(u.PredictedSuccess, ShouldAlmostEqual, 0.5, 1e-12)
			So(u.ThetaNew, ShouldAlmostEqual, 0.55, 1e-12)
			So(u.BetaNew, ShouldAlmostEqual, 0.53, 1e-12)
			So(u.Label, ShouldEqual, difficulty.LabelMedium)
			So(u.Validate(difficulty.DefaultParams()), ShouldBeNil)
		})

		Convey("Five successes raise both prediction and beta every step", func() {
			theta, beta := 0.5, 0.5
			prevP, prevBeta := -1.0, beta
			for i := 1; i <= 5; i++ {
				u, err := l.Compute(ctx, compute.Request{Theta: theta, BetaOld: beta, Success: true, ObservedRate: 1, RecentSuccesses: i, LastSuccess: true})
				So(err, ShouldBeNil)
				So(u.PredictedSuccess, ShouldBeGreaterThan, prevP)
				So(u.BetaNew, ShouldBeGreaterThan, prevBeta)
				So(u.BetaNew, ShouldBeLessThanOrEqualTo, 1.0)
				prevP, prevBeta = u.PredictedSuccess, u.BetaNew
				theta, beta = u.ThetaNew, u.BetaNew
			}
		})

		Convey("Invalid state is rejected", func() {
			_, err := l.Compute(ctx, compute.Request{Theta: 0, BetaOld: 0.5, ObservedRate: 2})
			So(errors.Is(err, difficulty.ErrInvalidInput), ShouldBeTrue)
		})

		Convey("A cancelled context is honoured", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := l.Compute(cctx, compute.Request{})
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})
	})
}

func TestRemote(t *testing.T) {
	Convey("Given a remote compute service", t, func() {
		params := difficulty.DefaultParams()
		var got compute.Request
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&got)
			switch r.URL.Path {
			case "/bad":
				_ = json.NewEncoder(w).Encode(compute.Update{PredictedSuccess: 0.5, BetaNew: 7, Label: "Expert"})
			case "/down":
				w.WriteHeader(http.StatusBadGateway)
			default:
				_ = json.NewEncoder(w).Encode(compute.Update{PredictedSuccess: 0.4, ThetaNew: 0.2, BetaNew: 0.5, Label: difficulty.LabelMedium})
			}
		}))
		defer srv.Close()

		Convey("A valid response is returned", func() {
			r := compute.NewRemote(srv.URL+"/ok", params, compute.WithHTTPClient(srv.Client()))
			u, err := r.Compute(context.Background(), compute.Request{Theta: 0.1, BetaOld: 0.5, Success: true})
			So(err, ShouldBeNil)
			So(u.BetaNew, ShouldEqual, 0.5)
			So(got.Theta, ShouldEqual, 0.1)
			So(got.Success, ShouldBeTrue)
		})

		Convey("Out-of-range results are rejected", func() {
			r := compute.NewRemote(srv.URL+"/bad", params)
			_, err := r.Compute(context.Background(), compute.Request{})
			So(errors.Is(err, compute.ErrInvalidUpdate), ShouldBeTrue)
		})

		Convey("Non-2xx statuses are errors", func() {
			r := compute.NewRemote(srv.URL+"/down", params)
			_, err := r.Compute(context.Background(), compute.Request{})
			So(errors.Is(err, compute.ErrRemoteStatus), ShouldBeTrue)
		})
	})
}

func TestFallback(t *testing.T) {
	Convey("Given a fallback policy", t, func() {
		ctx := context.Background()
		local := newLocal()
		req := compute.Request{Theta: 0.5, BetaOld: 0.5, Success: true, ObservedRate: 1}
		want, _ := local.Compute(ctx, req)

		Convey("A healthy primary is used", func() {
			primary := computerFunc(func(context.Context, compute.Request) (compute.Update, error) {
				return compute.Update{BetaNew: 0.9, Label: difficulty.LabelExpert}, nil
			})
			u, err := compute.NewFallback(primary, local).Compute(ctx, req)
			So(err, ShouldBeNil)
			So(u.BetaNew, ShouldEqual, 0.9)
		})

		Convey("A slow primary times out and the local result is returned", func() {
			slow := computerFunc(func(ctx context.Context, _ compute.Request) (compute.Update, error) {
				select {
				case <-ctx.Done():
					return compute.Update{}, ctx.Err()
				case <-time.After(time.Second):
					return compute.Update{BetaNew: 0.9}, nil
				}
			})
			start := time.Now()
			u, err := compute.NewFallback(slow, local, compute.WithTimeout(20*time.Millisecond)).Compute(ctx, req)
			So(err, ShouldBeNil)
			So(u, ShouldResemble, want)
			So(time.Since(start), ShouldBeLessThan, 500*time.Millisecond)
		})

		Convey("A failing primary falls back", func() {
			failing := computerFunc(func(context.Context, compute.Request) (compute.Update, error) {
				return compute.Update{}, errors.New("boom")
			})
			u, err := compute.NewFallback(failing, local).Compute(ctx, req)
			So(err, ShouldBeNil)
			So(u, ShouldResemble, want)
		})

		Convey("Both failing is unavailable", func() {
			failing := computerFunc(func(context.Context, compute.Request) (compute.Update, error) {
				return compute.Update{}, errors.New("boom")
			})
			_, err := compute.NewFallback(failing, failing).Compute(ctx, req)
			So(errors.Is(err, compute.ErrUnavailable), ShouldBeTrue)
		})

		Convey("Without a primary the secondary serves directly", func() {
			u, err := compute.NewFallback(nil, local).Compute(ctx, req)
			So(err, ShouldBeNil)
			So(u, ShouldResemble, want)
		})
	})
}
