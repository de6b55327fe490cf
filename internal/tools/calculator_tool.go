package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// CalculatorTool performs basic arithmetic on two operands.
type CalculatorTool struct{}

var _ ToolExecutor = (*CalculatorTool)(nil)

type calculatorArgs struct {
	Operand1 float64 `json:"operand1" jsonschema_description:"The first number in the calculation."`
	Operator string  `json:"operator" jsonschema:"enum=+,enum=-,enum=*,enum=/" jsonschema_description:"The operator to use."`
	Operand2 float64 `json:"operand2" jsonschema_description:"The second number in the calculation."`
}

func NewCalculatorTool() *CalculatorTool {
	return &CalculatorTool{}
}

// Definition asks for structured operands instead of a free-form expression,
// so no expression parsing is needed on our side.
func (ct *CalculatorTool) Definition() Tool {
	return NewFunctionTool(
		"calculate",
		"Performs a basic arithmetic calculation (add, subtract, multiply, divide).",
		SchemaFor(&calculatorArgs{}),
	)
}

func (ct *CalculatorTool) Execute(_ context.Context, arguments string) (string, error) {
	var args calculatorArgs
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("invalid arguments for calculator: %w", err)
	}

	var result float64
	switch args.Operator {
	case "+":
		result = args.Operand1 + args.Operand2
	case "-":
		result = args.Operand1 - args.Operand2
	case "*":
		result = args.Operand1 * args.Operand2
	case "/":
		if args.Operand2 == 0 {
			// The model relays this message; it is not a tool failure.
			return "Error: Division by zero is not allowed.", nil
		}
		result = args.Operand1 / args.Operand2
	default:
		return fmt.Sprintf("Error: Unsupported operator '%s'. Please use +, -, *, or /.", args.Operator), nil
	}

	// %g avoids trailing zeros (e.g., "10.000000").
	return fmt.Sprintf("The result is %g.", result), nil
}
