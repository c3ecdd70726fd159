// Package ingest reads producer analysis records from a JSON-lines feed
// and converts them into signal inputs for the compressor. Producers emit
// numeric fields as string decimals, so records parse through decimal
// types before quantization.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strconv"
	"sync/atomic"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/schema"
	"main/pkg/exception"
)

// Record is the wire form of one producer analysis line.
type Record struct {
	SignalID     string `json:"signal_id"`
	TokenAddress string `json:"token_address"`
	TokenSymbol  string `json:"token_symbol"`

	SentimentText   string          `json:"sentiment_text"`
	SentimentScore  decimal.Decimal `json:"sentiment_score"`
	ConfidenceScore decimal.Decimal `json:"confidence_score"`
	Reasoning       string          `json:"reasoning"`

	TechnicalIndicators map[string]decimal.Decimal `json:"technical_indicators"`

	RiskScore   decimal.Decimal `json:"risk_score"`
	RiskFactors []string        `json:"risk_factors"`

	VolatilityEstimate decimal.Decimal `json:"volatility_estimate"`
	LiquidityScore     decimal.Decimal `json:"liquidity_score"`
	MomentumScore      decimal.Decimal `json:"momentum_score"`

	DataSources    []string `json:"data_sources"`
	NewsHeadlines  []string `json:"news_headlines"`
	SocialMentions []string `json:"social_mentions"`

	SourceTimestampNs uint64 `json:"source_timestamp_ns"`

	Urgent bool `json:"urgent"`

	ModelName    string            `json:"model_name"`
	ModelVersion string            `json:"model_version"`
	ModelParams  map[string]string `json:"model_params"`
}

// maxLineBytes bounds a single producer line.
const maxLineBytes = 1 << 20

// Reader consumes a JSON-lines producer feed.
type Reader struct {
	scanner *bufio.Scanner

	lines   atomic.Uint64
	skipped atomic.Uint64
}

// NewReader wraps a producer feed stream.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Reader{scanner: scanner}
}

// Next returns the next valid signal input. Malformed lines are an error
// per line; io.EOF signals end of feed.
func (r *Reader) Next() (schema.SignalInput, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return schema.SignalInput{}, errors.Wrap(err, "read producer feed")
		}
		return schema.SignalInput{}, io.EOF
	}
	r.lines.Add(1)

	var record Record
	if err := json.Unmarshal(r.scanner.Bytes(), &record); err != nil {
		return schema.SignalInput{}, errors.Wrapf(err, "decode producer line %d", r.lines.Load())
	}
	input, err := record.ToInput()
	if err != nil {
		return schema.SignalInput{}, errors.Wrapf(err, "validate producer line %d", r.lines.Load())
	}
	return input, nil
}

// Run feeds valid inputs to the handler until the context is done or the
// feed ends. Invalid lines are logged, counted and skipped.
func (r *Reader) Run(ctx context.Context, handler func(schema.SignalInput)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		input, err := r.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			r.skipped.Add(1)
			logs.Errorf("skip producer record, err: %+v", err)
			continue
		}
		handler(input)
	}
}

// Lines returns the number of lines consumed so far.
func (r *Reader) Lines() uint64 {
	return r.lines.Load()
}

// Skipped returns the number of invalid lines dropped by Run.
func (r *Reader) Skipped() uint64 {
	return r.skipped.Load()
}

// ToInput validates the record and converts it to a signal input.
func (rec Record) ToInput() (schema.SignalInput, error) {
	if rec.SignalID == "" {
		return schema.SignalInput{}, errors.Wrap(exception.ErrInvalidArgument, "missing signal_id")
	}
	if rec.TokenSymbol == "" {
		return schema.SignalInput{}, errors.Wrap(exception.ErrSignalEmptySymbol, "missing token_symbol")
	}

	sentiment, err := decimalField(rec.SentimentScore, "sentiment_score", -1, 1)
	if err != nil {
		return schema.SignalInput{}, err
	}
	confidence, err := decimalField(rec.ConfidenceScore, "confidence_score", 0, 1)
	if err != nil {
		return schema.SignalInput{}, err
	}
	risk, err := decimalField(rec.RiskScore, "risk_score", 0, 1)
	if err != nil {
		return schema.SignalInput{}, err
	}
	volatility, err := decimalField(rec.VolatilityEstimate, "volatility_estimate", 0, 1)
	if err != nil {
		return schema.SignalInput{}, err
	}
	liquidity, err := decimalField(rec.LiquidityScore, "liquidity_score", 0, 1)
	if err != nil {
		return schema.SignalInput{}, err
	}
	momentum, err := decimalField(rec.MomentumScore, "momentum_score", -1, 1)
	if err != nil {
		return schema.SignalInput{}, err
	}

	indicators := make([]schema.Indicator, 0, len(rec.TechnicalIndicators))
	for name, value := range rec.TechnicalIndicators {
		v, err := decimalValue(value)
		if err != nil {
			return schema.SignalInput{}, errors.Wrapf(err, "technical indicator %q", name)
		}
		indicators = append(indicators, schema.Indicator{Name: name, Value: v})
	}

	return schema.SignalInput{
		SignalID:            rec.SignalID,
		TokenAddress:        rec.TokenAddress,
		TokenSymbol:         rec.TokenSymbol,
		SentimentText:       rec.SentimentText,
		SentimentScore:      sentiment,
		ConfidenceScore:     confidence,
		Reasoning:           rec.Reasoning,
		TechnicalIndicators: indicators,
		RiskScore:           risk,
		RiskFactors:         rec.RiskFactors,
		VolatilityEstimate:  volatility,
		LiquidityScore:      liquidity,
		MomentumScore:       momentum,
		DataSources:         rec.DataSources,
		NewsHeadlines:       rec.NewsHeadlines,
		SocialMentions:      rec.SocialMentions,
		SourceTimestampNs:   rec.SourceTimestampNs,
		Urgent:              rec.Urgent,
		ModelName:           rec.ModelName,
		ModelVersion:        rec.ModelVersion,
		ModelParams:         rec.ModelParams,
	}, nil
}

func decimalField(d decimal.Decimal, name string, lo, hi float64) (float64, error) {
	v, err := decimalValue(d)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", name)
	}
	if v < lo || v > hi {
		return 0, errors.Wrapf(exception.ErrInvalidArgument, "%s %.4f outside [%.1f,%.1f]", name, v, lo, hi)
	}
	return v, nil
}

func decimalValue(d decimal.Decimal) (float64, error) {
	s := d.String()
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
