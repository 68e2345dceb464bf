package specification

import (
	"context"
	"encoding/json"

	"github.com/flare-foundation/go-flare-common/pkg/logger"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

const MetricTVL = "tvl"

// Specification is the off-chain document an oracle references by CID. It
// describes which DefiLlama metric the oracle is answered with.
type Specification struct {
	Metric  string  `json:"metric" validate:"required,oneof=tvl"`
	Payload Payload `json:"payload" validate:"required"`
}

type Payload struct {
	Protocol string `json:"protocol" validate:"required,max=128"`
}

// ProtocolRegistry answers whether a protocol is known to the data feed the
// oracle will eventually be answered with.
type ProtocolRegistry interface {
	HasTVL(ctx context.Context, protocol string) (bool, error)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Parse decodes a raw specification document and checks its shape.
func Parse(raw []byte) (*Specification, error) {
	spec := new(Specification)
	if err := json.Unmarshal(raw, spec); err != nil {
		return nil, errors.Wrap(err, "could not decode specification")
	}

	if err := validate.Struct(spec); err != nil {
		return nil, errors.Wrap(err, "malformed specification")
	}

	return spec, nil
}

// Validator checks specifications against live reference data.
type Validator struct {
	registry ProtocolRegistry
}

func NewValidator(registry ProtocolRegistry) *Validator {
	return &Validator{registry: registry}
}

// Validate returns false for any specification that should not be trusted.
// Lookup errors are treated as a rejection.
func (v *Validator) Validate(ctx context.Context, chainID uint64, spec *Specification) bool {
	if spec == nil {
		return false
	}

	if err := validate.Struct(spec); err != nil {
		logger.Warnf("chain %d: specification is malformed: %v", chainID, err)
		return false
	}

	switch spec.Metric {
	case MetricTVL:
		ok, err := v.registry.HasTVL(ctx, spec.Payload.Protocol)
		if err != nil {
			logger.Errorf("chain %d: could not check tvl availability for protocol %s: %v", chainID, spec.Payload.Protocol, err)
			return false
		}
		if !ok {
			logger.Warnf("chain %d: protocol %s has no tvl data", chainID, spec.Payload.Protocol)
		}
		return ok
	default:
		return false
	}
}
