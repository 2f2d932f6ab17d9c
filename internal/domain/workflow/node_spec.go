package workflow

import (
	"fmt"
)

// NodeSpec is the decoded, typed configuration of a node. The set of
// implementations is closed: only this package can add one.
type NodeSpec interface {
	Kind() string
	sealed()
}

type TriggerSpec struct{}

type AISpec struct {
	AgentID string
	Prompt  string
}

type ActionSpec struct {
	Action string
	Params map[string]interface{}
}

type ConditionSpec struct {
	Condition string
}

type APISpec struct {
	Method string
	URL    string
}

func (TriggerSpec) Kind() string   { return NodeTypeTrigger }
func (AISpec) Kind() string        { return NodeTypeAI }
func (ActionSpec) Kind() string    { return NodeTypeAction }
func (ConditionSpec) Kind() string { return NodeTypeCondition }
func (APISpec) Kind() string       { return NodeTypeAPI }

func (TriggerSpec) sealed()   {}
func (AISpec) sealed()        {}
func (ActionSpec) sealed()    {}
func (ConditionSpec) sealed() {}
func (APISpec) sealed()       {}

// Spec decodes Data according to Type.
func (n Node) Spec() (NodeSpec, error) {
	switch n.Type {
	case NodeTypeTrigger:
		return TriggerSpec{}, nil
	case NodeTypeAI:
		agentID, err := optionalString(n.Data, "agentId")
		if err != nil {
			return nil, err
		}
		prompt, err := optionalString(n.Data, "prompt")
		if err != nil {
			return nil, err
		}
		return AISpec{AgentID: agentID, Prompt: prompt}, nil
	case NodeTypeAction:
		action, err := optionalString(n.Data, "action")
		if err != nil {
			return nil, err
		}
		params, _ := n.Data["params"].(map[string]interface{})
		return ActionSpec{Action: action, Params: params}, nil
	case NodeTypeCondition:
		condition, err := optionalString(n.Data, "condition")
		if err != nil {
			return nil, err
		}
		return ConditionSpec{Condition: condition}, nil
	case NodeTypeAPI:
		method, err := optionalString(n.Data, "method")
		if err != nil {
			return nil, err
		}
		url, err := optionalString(n.Data, "url")
		if err != nil {
			return nil, err
		}
		if method == "" {
			method = "GET"
		}
		return APISpec{Method: method, URL: url}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNodeType, n.Type)
	}
}

func optionalString(data map[string]interface{}, key string) (string, error) {
	raw, ok := data[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidNodeData, key, raw)
	}
	return s, nil
}
