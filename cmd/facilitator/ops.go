package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sharding-experiment/facilitator/internal/coordinator"
	"github.com/sharding-experiment/facilitator/internal/protocol"
)

const dataKey = "data"

// operation runs one coordinator call on a decoded request.
type operation struct {
	use   string
	short string
	run   func(ctx context.Context, c *coordinator.Coordinator, body []byte) (interface{}, error)
}

func unmarshal[T any](body []byte) (*T, error) {
	req := new(T)
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		return nil, &protocol.ValidationError{Field: "body", Reason: err.Error()}
	}
	return req, nil
}

// result keeps a nil result pointer from turning into a non-nil interface.
func result[T any](res *T, err error) (interface{}, error) {
	if res == nil {
		return nil, err
	}
	return res, err
}

func progressOp(use, short string, run func(*coordinator.Coordinator, context.Context, *protocol.ProgressRequest) (*coordinator.ProgressResult, error)) operation {
	return operation{use, short, func(ctx context.Context, c *coordinator.Coordinator, body []byte) (interface{}, error) {
		req, err := unmarshal[protocol.ProgressRequest](body)
		if err != nil {
			return nil, err
		}
		return result(run(c, ctx, req))
	}}
}

func confirmOp(use, short string, run func(*coordinator.Coordinator, context.Context, *protocol.ConfirmRequest) (*coordinator.ConfirmResult, error)) operation {
	return operation{use, short, func(ctx context.Context, c *coordinator.Coordinator, body []byte) (interface{}, error) {
		req, err := unmarshal[protocol.ConfirmRequest](body)
		if err != nil {
			return nil, err
		}
		return result(run(c, ctx, req))
	}}
}

func compositeOp(use, short string, run func(*coordinator.Coordinator, context.Context, *protocol.CompleteRequest) (*coordinator.CompositeResult, error)) operation {
	return operation{use, short, func(ctx context.Context, c *coordinator.Coordinator, body []byte) (interface{}, error) {
		req, err := unmarshal[protocol.CompleteRequest](body)
		if err != nil {
			return nil, err
		}
		return result(run(c, ctx, req))
	}}
}

var operations = []operation{
	{"stake", "Declares a stake on the origin gateway", func(ctx context.Context, c *coordinator.Coordinator, body []byte) (interface{}, error) {
		req, err := unmarshal[protocol.StakeRequest](body)
		if err != nil {
			return nil, err
		}
		return result(c.Stake(ctx, req))
	}},
	{"redeem", "Declares a redeem on the auxiliary co-gateway", func(ctx context.Context, c *coordinator.Coordinator, body []byte) (interface{}, error) {
		req, err := unmarshal[protocol.RedeemRequest](body)
		if err != nil {
			return nil, err
		}
		return result(c.Redeem(ctx, req))
	}},
	confirmOp("confirm-stake", "Proves and confirms a declared stake on auxiliary", (*coordinator.Coordinator).ConfirmStakeIntent),
	confirmOp("confirm-redeem", "Proves and confirms a declared redeem on origin", (*coordinator.Coordinator).ConfirmRedeemIntent),
	progressOp("progress-stake", "Progresses a stake in the origin outbox", (*coordinator.Coordinator).ProgressStake),
	progressOp("progress-mint", "Progresses a stake in the auxiliary inbox", (*coordinator.Coordinator).ProgressMint),
	progressOp("progress-redeem", "Progresses a redeem in the auxiliary outbox", (*coordinator.Coordinator).ProgressRedeem),
	progressOp("progress-unstake", "Progresses a redeem in the origin inbox", (*coordinator.Coordinator).ProgressUnstake),
	compositeOp("complete-stake", "Confirms a stake and progresses both ledgers", (*coordinator.Coordinator).ProgressStakeComposite),
	compositeOp("complete-redeem", "Confirms a redeem and progresses both ledgers", (*coordinator.Coordinator).ProgressRedeemComposite),
}

func operationCommands() []*cobra.Command {
	cmds := make([]*cobra.Command, 0, len(operations))
	for _, op := range operations {
		c := &cobra.Command{
			Use:   op.use,
			Short: op.short,
			Long:  op.short + ".\n\nThe JSON request is read from --data, or from stdin when --data is empty or \"-\".",
			Args:  cobra.NoArgs,
			RunE: func(c *cobra.Command, _ []string) error {
				body, err := readData(c)
				if err != nil {
					return err
				}
				s, err := build(c)
				if err != nil {
					return err
				}
				defer s.Close()
				res, err := op.run(c.Context(), s.coord, body)
				if res != nil {
					if perr := printJSON(c.OutOrStdout(), res); perr != nil && err == nil {
						err = perr
					}
				}
				if err != nil {
					return fmt.Errorf("%s (%s): %w", op.use, protocol.ErrorKind(err), err)
				}
				return nil
			},
		}
		c.Flags().String(dataKey, "", "JSON request body")
		cmds = append(cmds, c)
	}
	return cmds
}

func readData(c *cobra.Command) ([]byte, error) {
	data, err := c.Flags().GetString(dataKey)
	if err != nil {
		return nil, err
	}
	if data != "" && data != "-" {
		return []byte(data), nil
	}
	return io.ReadAll(io.LimitReader(c.InOrStdin(), 1<<20))
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <message-hash>",
		Short: "Shows a message's outbox and inbox status on both ledgers",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			hash, err := protocol.ParseMessageHash(args[0])
			if err != nil {
				return err
			}
			s, err := build(c)
			if err != nil {
				return err
			}
			defer s.Close()
			res, err := s.coord.Status(c.Context(), hash)
			if err != nil {
				return err
			}
			if err := printJSON(c.OutOrStdout(), res); err != nil {
				return err
			}
			steps, err := s.journal.Steps(hash)
			if err != nil {
				return err
			}
			for _, e := range steps {
				fmt.Fprintf(c.ErrOrStderr(), "%s %-20s %-9s tx=%s block=%d\n",
					e.Time.Format("2006-01-02T15:04:05Z07:00"), e.Op, e.Side, e.TxHash.Hex(), e.BlockNumber)
			}
			return nil
		},
	}
}

func hashLockCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hashlock",
		Short: "Generates an unlock secret and its hash lock",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			hl, err := protocol.NewHashLock()
			if err != nil {
				return err
			}
			return printJSON(c.OutOrStdout(), hl)
		},
	}
}
