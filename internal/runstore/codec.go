package runstore

import (
	"encoding/json"
	"fmt"

	"github.com/lucasnoah/relayfactory/internal/contract"
)

type exchangeRow struct {
	envelope string
	result   string
}

func encodeExchange(ex contract.Exchange) (exchangeRow, error) {
	env, err := json.Marshal(ex.Envelope)
	if err != nil {
		return exchangeRow{}, fmt.Errorf("encode envelope: %w", err)
	}
	res, err := json.Marshal(ex.Result)
	if err != nil {
		return exchangeRow{}, fmt.Errorf("encode agent result: %w", err)
	}
	return exchangeRow{envelope: string(env), result: string(res)}, nil
}

func decodeExchange(stage, env, res string) (contract.Exchange, error) {
	ex := contract.Exchange{Stage: stage}
	if err := json.Unmarshal([]byte(env), &ex.Envelope); err != nil {
		return ex, fmt.Errorf("decode stored envelope: %w", err)
	}
	if err := json.Unmarshal([]byte(res), &ex.Result); err != nil {
		return ex, fmt.Errorf("decode stored agent result: %w", err)
	}
	return ex, nil
}

func decodeResult(body string) (*contract.PipelineResult, error) {
	var res contract.PipelineResult
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		return nil, fmt.Errorf("decode stored result: %w", err)
	}
	return &res, nil
}
