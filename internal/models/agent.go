package models

// Agent identifies one of the five display stages of the cognitive pipeline.
type Agent string

// StageStatus is the display status of a single stage.
type StageStatus string

// Stage pairs an agent with its current status.
type Stage struct {
	Agent  Agent       `json:"agent"`
	Status StageStatus `json:"status"`
}

// AgentInfo holds the labels shown for an agent.
type AgentInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Action      string `json:"action"`
}

const (
	AgentRouter    Agent = "router"
	AgentRetriever Agent = "retriever"
	AgentReasoner  Agent = "reasoner"
	AgentActioner  Agent = "actioner"
	AgentVerifier  Agent = "verifier"

	StatusIdle       StageStatus = "idle"
	StatusProcessing StageStatus = "processing"
	StatusComplete   StageStatus = "complete"
)

// Agents is the fixed processing order of the pipeline.
var Agents = [...]Agent{AgentRouter, AgentRetriever, AgentReasoner, AgentActioner, AgentVerifier}

// StageCount is the number of stages in every stage array.
const StageCount = len(Agents)

var agentInfos = map[Agent]AgentInfo{
	AgentRouter: {
		Name:        "Cognitive Router",
		Description: "Query analysis & routing",
		Action:      "Parsing query semantics and determining optimal routing path...",
	},
	AgentRetriever: {
		Name:        "Retriever",
		Description: "Knowledge retrieval",
		Action:      "Querying vector database for contextually relevant embeddings...",
	},
	AgentReasoner: {
		Name:        "Reasoner",
		Description: "Logic & inference",
		Action:      "Constructing logical inference chains from retrieved context...",
	},
	AgentActioner: {
		Name:        "Actioner",
		Description: "Response generation",
		Action:      "Synthesizing actionable response from reasoning output...",
	},
	AgentVerifier: {
		Name:        "Verifier",
		Description: "Output validation",
		Action:      "Validating response coherence and factual accuracy...",
	},
}

// Info returns the display labels of the agent. Unknown agents get an empty AgentInfo.
func (a Agent) Info() AgentInfo {
	return agentInfos[a]
}

// IdleStages returns a fresh stage array with every agent idle.
func IdleStages() []Stage {
	stages := make([]Stage, StageCount)
	for i, a := range Agents {
		stages[i] = Stage{Agent: a, Status: StatusIdle}
	}
	return stages
}
