// Package lambda starts an AWS Lambda function with the agent loaded. The
// function's handler setting points to the binary built with Start; the user
// handler is named by DT_LAMBDA_HANDLER and loaded through the agent, which
// wraps it.
//
//	func main() {
//		lambda.Start(myAgentFactory)
//	}
package lambda

import (
	"context"
	"fmt"
	"reflect"

	awslambda "github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/pkg/errors"

	"github.com/dynatrace/oneagent-loader-go/oneagent"
)

// lambdaStart is replaced in tests
var lambdaStart = awslambda.Start

// Start loads the agent with factory, resolves the user handler and hands it
// to the Lambda runtime. A nil factory means the registered one. Start panics
// if the handler can't be resolved; it doesn't return otherwise.
func Start(factory oneagent.Factory, opts ...oneagent.LoadOption) {
	h, err := Handler(factory, opts...)
	if err != nil {
		panic(fmt.Sprintf("%s: %v", lambdacontext.FunctionName, err))
	}
	lambdaStart(h)
}

// Handler loads the agent and returns the user handler without starting the
// runtime.
func Handler(factory oneagent.Factory, opts ...oneagent.LoadOption) (interface{}, error) {
	if factory != nil {
		opts = append([]oneagent.LoadOption{oneagent.WithFactory(factory)}, opts...)
	}
	agent, err := oneagent.Load(nil, opts...)
	if err != nil {
		return nil, err
	}
	return AgentHandler(agent, nil)
}

// AgentHandler returns the user handler named by DT_LAMBDA_HANDLER, or by
// _HANDLER if it's unset, resolved through agent. A nil env means the process
// environment.
func AgentHandler(agent oneagent.Agent, env oneagent.Environment) (interface{}, error) {
	spec := oneagent.LambdaHandlerSpec(env)
	if spec == "" {
		return nil, errors.New("no handler configured, set " + oneagent.EnvLambdaHandler)
	}

	h, err := oneagent.ResolveHandler(agent, env, spec)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, errors.Errorf("handler %s not found", spec)
	}
	if err := checkSignature(reflect.TypeOf(h)); err != nil {
		return nil, errors.Wrapf(err, "handler %s", spec)
	}
	return h, nil
}

func checkSignature(handler reflect.Type) error {
	// check type
	if handler.Kind() != reflect.Func {
		return fmt.Errorf("handler kind %s is not %s", handler.Kind(), reflect.Func)
	}

	// check parameters
	if handler.NumIn() > 2 {
		return fmt.Errorf("handler takes too many arguments: %d", handler.NumIn())
	}

	if handler.NumIn() == 2 {
		if !handler.In(0).Implements(reflect.TypeOf((*context.Context)(nil)).Elem()) {
			return errors.New("context should be the first argument")
		}
	}

	// check return values
	if handler.NumOut() > 2 {
		return fmt.Errorf("handler returns too many values: %d", handler.NumOut())
	}

	if handler.NumOut() > 0 {
		rt := handler.Out(handler.NumOut() - 1)
		if !rt.Implements(reflect.TypeOf((*error)(nil)).Elem()) {
			return errors.New("handler should return error as the last value")
		}
	}
	return nil
}
