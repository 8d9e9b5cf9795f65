/*
Package pergola runs agent tasks as bounded graphs of model-driven nodes.

A request is classified by difficulty and routed through one of three
pipelines: a direct answer, an answer with a review loop, or a plan that is
executed item by item and then synthesised. Each pipeline is a graph of node
kinds (see package nodes) with conditional branching, and every run is bounded
by an iteration ceiling, a context budget and a step ceiling, so it always ends
with is_complete set and either a final answer or an error.

# Usage

	inv, _ := openai.New(openai.Config{APIKey: os.Getenv("OPENAI_API_KEY")})
	eng, err := pergola.New(ctx, templates.Autonomous, inv)
	if err != nil {
		log.Fatal(err)
	}

	state, err := eng.RunToCompletion(ctx, "Compare three sorting algorithms")
	fmt.Println(state.FinalAnswer)

Runs can also be driven one node at a time, which is what the HTTP and MCP
surfaces do:

	id, _ := eng.StartRun(ctx, "What is 2+2?", 5)
	for {
		res, err := eng.Step(ctx, id)
		if err != nil || res.Done {
			break
		}
	}

Every step is persisted through a ports.RunStore, so a run interrupted by a
cancelled context or a crash is picked up again with Resume.
*/
package pergola
