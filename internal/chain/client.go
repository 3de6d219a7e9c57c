// Package chain wraps Solana RPC access: account fetches with retry on
// transient errors, plus the on-chain Anchor IDL lookup.
package chain

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/soldocs/soldocs/internal/idl"
)

const (
	maxRetries = 3
	// idlSeed is the PDA seed Anchor uses for on-chain IDL accounts.
	idlSeed = "anchor:idl"
	// maxIDLBytes caps the declared compressed-payload length.
	maxIDLBytes = 10_000_000
)

// idlHeaderOffsets are the candidate byte offsets of the little-endian
// payload length, tried in order. 44 = discriminator + authority + length
// (current layout), 12 = discriminator + length (older), 8 = minimal.
var idlHeaderOffsets = []int{44, 12, 8}

// AccountInfo is the slice of on-chain account state the agent needs.
type AccountInfo struct {
	Data       []byte
	Owner      solana.PublicKey
	Executable bool
	Length     int
}

// Client is a retrying Solana RPC client. Safe for concurrent use.
type Client struct {
	rpc *rpc.Client
	url string
	log *slog.Logger
}

// New creates a Client against the given RPC endpoint.
func New(url string, log *slog.Logger) *Client {
	return &Client{rpc: rpc.New(url), url: url, log: log}
}

// URL returns the configured RPC endpoint.
func (c *Client) URL() string { return c.url }

// isRetryable reports whether an RPC error is a rate-limit or transient
// upstream failure worth retrying.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503")
}

// retryBackOff implements the fixed policy: 2^attempt seconds plus up to
// 500ms of jitter before each retry.
type retryBackOff struct {
	attempt int
}

func (b *retryBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(1<<b.attempt)*time.Second +
		time.Duration(rand.Int63n(int64(500*time.Millisecond)))
}

func (b *retryBackOff) Reset() { b.attempt = 0 }

// withRetry runs op, retrying transient errors up to maxRetries times.
// Non-retryable errors propagate after the first failure.
func (c *Client) withRetry(ctx context.Context, op func() error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(&retryBackOff{}, maxRetries), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, bo)
}

// GetVersion probes the RPC node. Used as the startup health check.
func (c *Client) GetVersion(ctx context.Context) (string, error) {
	var version string
	err := c.withRetry(ctx, func() error {
		out, err := c.rpc.GetVersion(ctx)
		if err != nil {
			return err
		}
		version = out.SolanaCore
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("RPC %s unreachable: %w", c.url, err)
	}
	return version, nil
}

// GetAccount fetches account state for a base58 address. Returns nil, nil
// when the account does not exist.
func (c *Client) GetAccount(ctx context.Context, address string) (*AccountInfo, error) {
	key, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("parse address %s: %w", address, err)
	}
	var info *AccountInfo
	err = c.withRetry(ctx, func() error {
		out, err := c.rpc.GetAccountInfo(ctx, key)
		if errors.Is(err, rpc.ErrNotFound) {
			info = nil
			return nil
		}
		if err != nil {
			return err
		}
		if out == nil || out.Value == nil {
			info = nil
			return nil
		}
		data := out.Value.Data.GetBinary()
		info = &AccountInfo{
			Data:       data,
			Owner:      out.Value.Owner,
			Executable: out.Value.Executable,
			Length:     len(data),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// FetchIDL locates and decodes the on-chain Anchor IDL for a program.
// Returns nil, nil when the IDL account is missing or undecodable at
// every known header layout.
func (c *Client) FetchIDL(ctx context.Context, programID string) (idl.Document, error) {
	programKey, err := solana.PublicKeyFromBase58(programID)
	if err != nil {
		return nil, fmt.Errorf("parse program ID %s: %w", programID, err)
	}

	idlAddr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte(idlSeed), programKey.Bytes()},
		programKey,
	)
	if err != nil {
		return nil, fmt.Errorf("derive IDL address for %s: %w", programID, err)
	}

	account, err := c.GetAccount(ctx, idlAddr.String())
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, nil
	}

	doc := decodeIDLAccount(account.Data)
	if doc == nil {
		c.log.Debug("IDL account present but undecodable", "program", programID, "bytes", account.Length)
	}
	return doc, nil
}

// decodeIDLAccount tries each known header offset: read a little-endian
// u32 length, zlib-inflate that many bytes, and accept the first result
// that parses as an IDL with a non-empty instructions array.
func decodeIDLAccount(data []byte) idl.Document {
	for _, offset := range idlHeaderOffsets {
		if len(data) < offset+4 {
			continue
		}
		declared := int(binary.LittleEndian.Uint32(data[offset : offset+4]))
		if declared <= 0 || declared > len(data)-offset-4 || declared > maxIDLBytes {
			continue
		}
		payload := data[offset+4 : offset+4+declared]
		raw, err := inflate(payload)
		if err != nil {
			continue
		}
		doc, err := idl.Parse(raw)
		if err != nil {
			continue
		}
		if len(doc.Instructions()) == 0 {
			continue
		}
		return doc
	}
	return nil
}

func inflate(payload []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(io.LimitReader(r, maxIDLBytes))
}
