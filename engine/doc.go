// Package engine routes messages between agents over named topics.
//
// A Bus indexes which agents subscribe to which topics. The Engine drives a
// run over a bus: the input is published on core.UserInputTopic, and
// delivery proceeds in rounds. Within a round, pending messages are taken
// in publication order and each is handed to its subscribers one at a time,
// in registration order. Outputs are published according to the producing
// agent's publish topic (static names or a core.TopicFunc) and delivered in
// the next round. A run ends after a round that publishes nothing.
//
// Transfers are followed inside a delivery: the target runs with the same
// input and its output is published under the target's topics.
//
// # Usage
//
//	eng := engine.New(engine.WithModel(m), engine.WithLogger(logger))
//
//	writer := agent.NewPromptAgent("writer", func(o *agent.PromptOptions) {
//	    o.SubscribeTopic = []string{core.UserInputTopic}
//	    o.PublishTopic = core.Topics("draft")
//	})
//	editor := agent.NewPromptAgent("editor", func(o *agent.PromptOptions) {
//	    o.SubscribeTopic = []string{"draft"}
//	})
//
//	res, err := eng.Run(ctx, "write about Go", writer, editor)
//
// Agents without subscriptions are run as a sequence instead; see
// Engine.RunSequence.
//
// # Limits
//
// Config.MaxRounds stops publish cycles and Config.MaxCalls bounds the
// number of agent deliveries of a single run, also when several runs share
// one ExecutionContext.
package engine
