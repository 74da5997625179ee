package council

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
	nodex "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/nodes"
)

func compilePlanGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
) (compose.Runnable[map[string]any, contractx.ConsultationPlan], error) {
	runner, err := compileStructuredLLMGraph[contractx.ConsultationPlan](ctx, chatModel, systemPrompt, "council.plan_graph")
	if err != nil {
		return nil, fmt.Errorf("compile plan graph: %w", err)
	}
	return runner, nil
}

func compileSynthesisGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
) (compose.Runnable[map[string]any, *schema.Message], error) {
	template := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage("{input}"),
	)

	graph := compose.NewGraph[map[string]any, *schema.Message]()
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add synthesis prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add synthesis model node: %w", err)
	}
	if err := graph.AddEdge(compose.START, "prompt"); err != nil {
		return nil, fmt.Errorf("add synthesis edge start->prompt: %w", err)
	}
	if err := graph.AddEdge("prompt", "model"); err != nil {
		return nil, fmt.Errorf("add synthesis edge prompt->model: %w", err)
	}
	if err := graph.AddEdge("model", compose.END); err != nil {
		return nil, fmt.Errorf("add synthesis edge model->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("council.synthesis_graph"))
	if err != nil {
		return nil, fmt.Errorf("compile synthesis graph: %w", err)
	}
	return runner, nil
}

func compileStructuredLLMGraph[T any](
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
	graphName string,
) (compose.Runnable[map[string]any, T], error) {
	template := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage("{input}"),
	)

	parser := schema.NewMessageJSONParser[T](&schema.MessageJSONParseConfig{
		ParseFrom: schema.MessageParseFromContent,
	})

	graph := compose.NewGraph[map[string]any, T]()
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add structured prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add structured model node: %w", err)
	}
	if err := graph.AddLambdaNode("parse_json", compose.MessageParser(parser)); err != nil {
		return nil, fmt.Errorf("add structured parser node: %w", err)
	}

	if err := graph.AddEdge(compose.START, "prompt"); err != nil {
		return nil, fmt.Errorf("add structured edge start->prompt: %w", err)
	}
	if err := graph.AddEdge("prompt", "model"); err != nil {
		return nil, fmt.Errorf("add structured edge prompt->model: %w", err)
	}
	if err := graph.AddEdge("model", "parse_json"); err != nil {
		return nil, fmt.Errorf("add structured edge model->parse: %w", err)
	}
	if err := graph.AddEdge("parse_json", compose.END); err != nil {
		return nil, fmt.Errorf("add structured edge parse->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName(graphName))
	if err != nil {
		return nil, fmt.Errorf("compile structured graph: %w", err)
	}
	return runner, nil
}

// compileRuntimeGraph unrolls the council protocol into a static DAG:
// plan, the round-zero execute/review pair, then up to two delta rounds, each
// entered only when the latest review still holds conflicts, and finally
// synthesis. Unrolling keeps every possible path visible in the graph instead
// of hiding the round limit in a loop condition.
func (s *Service) compileRuntimeGraph(ctx context.Context) (compose.Runnable[*nodex.CouncilState, *nodex.CouncilState], error) {
	graph := compose.NewGraph[*nodex.CouncilState, *nodex.CouncilState]()

	nodes := []struct {
		name string
		fn   func(context.Context, *nodex.CouncilState) (*nodex.CouncilState, error)
	}{
		{"validate_request", s.validateNode},
		{"plan", s.planNode},
		{"execute_round_0", s.executeNode},
		{"review_round_0", s.reviewNode},
		{"delta_round_1", s.deltaNode},
		{"execute_round_1", s.executeNode},
		{"review_round_1", s.reviewNode},
		{"delta_round_2", s.deltaNode},
		{"execute_round_2", s.executeNode},
		{"review_round_2", s.reviewNode},
		{"synthesize", s.synthesizeNode},
	}
	for _, n := range nodes {
		if err := graph.AddLambdaNode(n.name, compose.InvokableLambda(n.fn)); err != nil {
			return nil, fmt.Errorf("add node %s: %w", n.name, err)
		}
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "plan"},
		{"plan", "execute_round_0"},
		{"execute_round_0", "review_round_0"},
		{"delta_round_1", "execute_round_1"},
		{"execute_round_1", "review_round_1"},
		{"delta_round_2", "execute_round_2"},
		{"execute_round_2", "review_round_2"},
		{"review_round_2", "synthesize"},
		{"synthesize", compose.END},
	}
	for _, e := range edges {
		if err := graph.AddEdge(e[0], e[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", e[0], e[1], err)
		}
	}

	if err := graph.AddBranch("review_round_0", deltaBranch("delta_round_1")); err != nil {
		return nil, fmt.Errorf("add branch after review_round_0: %w", err)
	}
	if err := graph.AddBranch("review_round_1", deltaBranch("delta_round_2")); err != nil {
		return nil, fmt.Errorf("add branch after review_round_1: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("council.run"))
	if err != nil {
		return nil, fmt.Errorf("compile council runtime graph: %w", err)
	}
	return runner, nil
}

// deltaBranch routes to the next delta round while the latest verdict still
// carries conflicts, otherwise straight to synthesis.
func deltaBranch(deltaNode string) *compose.GraphBranch {
	return compose.NewGraphBranch(
		func(_ context.Context, state *nodex.CouncilState) (string, error) {
			if len(state.Verdict.Conflicts) > 0 && state.Round < maxDeltaRounds {
				return deltaNode, nil
			}
			return "synthesize", nil
		},
		map[string]bool{deltaNode: true, "synthesize": true},
	)
}
