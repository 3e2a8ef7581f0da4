package db

import (
	"hermannm.dev/enumnames"
)

type NumericOperator uint8

const (
	OperatorLess NumericOperator = iota + 1
	OperatorLessOrEqual
	OperatorEqual
	OperatorGreaterOrEqual
	OperatorGreater
)

var numericOperatorNames = enumnames.NewMap(map[NumericOperator]string{
	OperatorLess:           "<",
	OperatorLessOrEqual:    "<=",
	OperatorEqual:          "=",
	OperatorGreaterOrEqual: ">=",
	OperatorGreater:        ">",
})

func (operator NumericOperator) IsValid() bool {
	return numericOperatorNames.ContainsEnumValue(operator)
}

func (operator NumericOperator) String() string {
	return numericOperatorNames.GetNameOrFallback(operator, "INVALID_OPERATOR")
}

// Evaluates the comparison `left <operator> right`.
func (operator NumericOperator) Compare(left float64, right float64) bool {
	switch operator {
	case OperatorLess:
		return left < right
	case OperatorLessOrEqual:
		return left <= right
	case OperatorEqual:
		return left == right
	case OperatorGreaterOrEqual:
		return left >= right
	case OperatorGreater:
		return left > right
	default:
		return false
	}
}

func (operator NumericOperator) MarshalJSON() ([]byte, error) {
	return numericOperatorNames.MarshalToNameJSON(operator)
}

func (operator *NumericOperator) UnmarshalJSON(bytes []byte) error {
	return numericOperatorNames.UnmarshalFromNameJSON(bytes, operator)
}

// MatchOperator controls how a search-match filter combines the terms in its query text.
type MatchOperator uint8

const (
	MatchOperatorOR MatchOperator = iota + 1
	MatchOperatorAND
)

var matchOperatorNames = enumnames.NewMap(map[MatchOperator]string{
	MatchOperatorOR:  "OR",
	MatchOperatorAND: "AND",
})

func (operator MatchOperator) IsValid() bool {
	return matchOperatorNames.ContainsEnumValue(operator)
}

func (operator MatchOperator) String() string {
	return matchOperatorNames.GetNameOrFallback(operator, "INVALID_MATCH_OPERATOR")
}

func (operator MatchOperator) MarshalJSON() ([]byte, error) {
	return matchOperatorNames.MarshalToNameJSON(operator)
}

func (operator *MatchOperator) UnmarshalJSON(bytes []byte) error {
	return matchOperatorNames.UnmarshalFromNameJSON(bytes, operator)
}
