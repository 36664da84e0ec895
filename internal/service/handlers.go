package service

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sharding-experiment/facilitator/internal/coordinator"
	"github.com/sharding-experiment/facilitator/internal/protocol"
)

func (s *Service) stake(ctx context.Context, r *http.Request) (interface{}, error) {
	var req protocol.StakeRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	res, err := s.coord.Stake(ctx, &req)
	if res == nil {
		return nil, err
	}
	return res, err
}

func (s *Service) redeem(ctx context.Context, r *http.Request) (interface{}, error) {
	var req protocol.RedeemRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	res, err := s.coord.Redeem(ctx, &req)
	if res == nil {
		return nil, err
	}
	return res, err
}

func (s *Service) confirmStake(ctx context.Context, r *http.Request) (interface{}, error) {
	var req protocol.ConfirmRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	res, err := s.coord.ConfirmStakeIntent(ctx, &req)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) confirmRedeem(ctx context.Context, r *http.Request) (interface{}, error) {
	var req protocol.ConfirmRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	res, err := s.coord.ConfirmRedeemIntent(ctx, &req)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) progressStake(ctx context.Context, r *http.Request) (interface{}, error) {
	return s.progress(ctx, r, s.coord.ProgressStake)
}

func (s *Service) progressMint(ctx context.Context, r *http.Request) (interface{}, error) {
	return s.progress(ctx, r, s.coord.ProgressMint)
}

func (s *Service) progressRedeem(ctx context.Context, r *http.Request) (interface{}, error) {
	return s.progress(ctx, r, s.coord.ProgressRedeem)
}

func (s *Service) progressUnstake(ctx context.Context, r *http.Request) (interface{}, error) {
	return s.progress(ctx, r, s.coord.ProgressUnstake)
}

func (s *Service) progress(ctx context.Context, r *http.Request, run func(context.Context, *protocol.ProgressRequest) (*coordinator.ProgressResult, error)) (interface{}, error) {
	var req protocol.ProgressRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	res, err := run(ctx, &req)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) progressStakeComposite(ctx context.Context, r *http.Request) (interface{}, error) {
	var req protocol.CompleteRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	res, err := s.coord.ProgressStakeComposite(ctx, &req)
	if res == nil {
		return nil, err
	}
	return res, err
}

func (s *Service) progressRedeemComposite(ctx context.Context, r *http.Request) (interface{}, error) {
	var req protocol.CompleteRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	res, err := s.coord.ProgressRedeemComposite(ctx, &req)
	if res == nil {
		return nil, err
	}
	return res, err
}

func (s *Service) status(ctx context.Context, r *http.Request) (interface{}, error) {
	hash, err := protocol.ParseMessageHash(mux.Vars(r)["hash"])
	if err != nil {
		return nil, err
	}
	res, err := s.coord.Status(ctx, hash)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) steps(ctx context.Context, r *http.Request) (interface{}, error) {
	hash, err := protocol.ParseMessageHash(mux.Vars(r)["hash"])
	if err != nil {
		return nil, err
	}
	if s.journal == nil {
		return []interface{}{}, nil
	}
	entries, err := s.journal.Steps(hash)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		return []interface{}{}, nil
	}
	return entries, nil
}
