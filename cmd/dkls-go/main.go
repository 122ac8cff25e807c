// Command dkls-go runs a local end-to-end demonstration: a 2-of-3
// distributed key generation followed by a two-party threshold signature,
// with every party hosted in-process and messages routed in lock-step.
package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"

	"github.com/silencelabs/dkls-go/pkg/dkls"
	"github.com/silencelabs/dkls-go/pkg/dkls/keygen"
	"github.com/silencelabs/dkls-go/pkg/dkls/localengine"
	"github.com/silencelabs/dkls-go/pkg/dkls/logging"
	"github.com/silencelabs/dkls-go/pkg/dkls/sign"
)

const (
	parties   = 3
	threshold = 2
)

func main() {
	ctx := context.Background()
	logger := logging.New(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	if err := run(ctx, logger); err != nil {
		logger.Error(ctx, "demo failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger logging.Logger) error {
	logger.Info(ctx, "dkls-go demo", "version", dkls.LibraryVersion())
	engine := localengine.New()

	shares, err := runKeygen(engine, logger)
	if err != nil {
		return fmt.Errorf("keygen: %w", err)
	}
	defer func() {
		for _, s := range shares {
			s.Close()
		}
	}()
	logger.Info(ctx, "keygen complete",
		"parties", parties, "threshold", threshold,
		"public_key", logging.Placeholder())

	digest := sha256.Sum256([]byte("dkls-go demo message"))
	sig, err := runSign(engine, []*dkls.Keyshare{shares[0], shares[2]}, digest, logger)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	logger.Info(ctx, "signature complete", "r_len", len(sig.R), "s_len", len(sig.S))
	fmt.Println("2-of-3 keygen and sign succeeded")
	return nil
}

// runKeygen drives all three parties through the four keygen rounds,
// routing each round's envelopes to their destinations.
func runKeygen(engine dkls.Engine, logger logging.Logger) ([]*dkls.Keyshare, error) {
	sessions := make([]*keygen.Session, parties)
	for i := range sessions {
		s, err := keygen.New(engine, parties, threshold, uint8(i), keygen.WithLogger(logger.With("party", i)))
		if err != nil {
			return nil, err
		}
		defer s.Close()
		sessions[i] = s
	}

	var round []dkls.Message
	for i, s := range sessions {
		msg, err := s.CreateFirstMessage()
		if err != nil {
			return nil, fmt.Errorf("party %d: %w", i, err)
		}
		round = append(round, msg)
	}

	for r := 0; r < 3; r++ {
		var commitments []byte
		if r == 2 {
			for _, s := range sessions {
				c, err := s.Commitment2()
				if err != nil {
					return nil, err
				}
				commitments = append(commitments, c[:]...)
			}
		}
		var next []dkls.Message
		for i, s := range sessions {
			out, err := s.HandleMessages(deliverTo(round, uint8(i)), commitments, nil)
			if err != nil {
				return nil, fmt.Errorf("party %d round %d: %w", i, r+1, err)
			}
			next = append(next, out...)
		}
		round = next
	}
	for i, s := range sessions {
		if _, err := s.HandleMessages(deliverTo(round, uint8(i)), nil, nil); err != nil {
			return nil, fmt.Errorf("party %d round 4: %w", i, err)
		}
	}

	shares := make([]*dkls.Keyshare, parties)
	for i, s := range sessions {
		share, err := s.Keyshare()
		if err != nil {
			return nil, fmt.Errorf("party %d: %w", i, err)
		}
		shares[i] = share
	}
	return shares, nil
}

// runSign drives a threshold quorum through the signing rounds and combines
// the partial signatures.
func runSign(engine dkls.Engine, quorum []*dkls.Keyshare, digest [32]byte, logger logging.Logger) (*dkls.Signature, error) {
	sessions := make([]*sign.Session, len(quorum))
	ids := make([]uint8, len(quorum))
	for i, share := range quorum {
		ids[i] = share.PartyID
		s, err := sign.New(engine, share, "m/0/1", sign.WithLogger(logger.With("party", share.PartyID)))
		if err != nil {
			return nil, err
		}
		defer s.Close()
		sessions[i] = s
	}

	var round []dkls.Message
	for i, s := range sessions {
		msg, err := s.CreateFirstMessage()
		if err != nil {
			return nil, fmt.Errorf("party %d: %w", ids[i], err)
		}
		round = append(round, msg)
	}
	for r := 0; r < 3; r++ {
		var next []dkls.Message
		for i, s := range sessions {
			out, err := s.HandleMessages(deliverTo(round, ids[i]), nil)
			if err != nil {
				return nil, fmt.Errorf("party %d round %d: %w", ids[i], r+1, err)
			}
			next = append(next, out...)
		}
		round = next
	}

	var finals []dkls.Message
	for i, s := range sessions {
		msg, err := s.LastMessage(digest[:])
		if err != nil {
			return nil, fmt.Errorf("party %d: %w", ids[i], err)
		}
		finals = append(finals, msg)
	}

	var sig *dkls.Signature
	for i, s := range sessions {
		out, err := s.Combine(deliverTo(finals, ids[i]))
		if err != nil {
			return nil, fmt.Errorf("party %d combine: %w", ids[i], err)
		}
		if i == 0 {
			sig = out
		}
	}
	return sig, nil
}

// deliverTo selects the envelopes addressed to one party: its point-to-point
// messages plus every other party's broadcasts.
func deliverTo(msgs []dkls.Message, id uint8) []dkls.Message {
	var out []dkls.Message
	for _, m := range msgs {
		if m.From == id {
			continue
		}
		if m.IsBroadcast() || m.To == id {
			out = append(out, m)
		}
	}
	return out
}
