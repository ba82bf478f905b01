//go:build scenario

package combat

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/Shopify/go-lua"
)

const (
	scenarioTypeName  = "scenario"
	intentRefTypeName = "combat_intent"
)

type Scenario struct {
	Name  string
	Steps []Step
}

type Step struct {
	Kind string
	Args map[string]any
}

// intentRef points a chained Lua call back at the step it annotates.
type intentRef struct {
	scenario  *Scenario
	stepIndex int
}

func loadScenarioFromFile(path string) (*Scenario, error) {
	state := lua.NewState()
	lua.OpenLibraries(state)

	registerLuaTypes(state)

	if err := lua.LoadFile(state, path, ""); err != nil {
		return nil, fmt.Errorf("load lua: %w", err)
	}
	if err := state.ProtectedCall(0, 1, 0); err != nil {
		return nil, fmt.Errorf("run lua: %w", err)
	}

	if state.TypeOf(-1) != lua.TypeUserData {
		state.Pop(1)
		return nil, fmt.Errorf("scenario script must return Scenario")
	}
	ud := state.ToUserData(-1)
	state.Pop(1)
	scenario, ok := ud.(*Scenario)
	if !ok || scenario == nil {
		return nil, fmt.Errorf("scenario script returned invalid Scenario")
	}
	if strings.TrimSpace(scenario.Name) == "" {
		scenario.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return scenario, nil
}

func registerLuaTypes(state *lua.State) {
	registerScenarioType(state)
	registerIntentRefType(state)
	registerScenarioConstructor(state)
}

func registerScenarioType(state *lua.State) {
	lua.NewMetaTable(state, scenarioTypeName)
	state.NewTable()
	lua.SetFunctions(state, scenarioMethods, 0)
	state.SetField(-2, "__index")
	state.Pop(1)
}

func registerIntentRefType(state *lua.State) {
	lua.NewMetaTable(state, intentRefTypeName)
	state.NewTable()
	lua.SetFunctions(state, intentRefMethods, 0)
	state.SetField(-2, "__index")
	state.Pop(1)
}

func registerScenarioConstructor(state *lua.State) {
	state.NewTable()
	lua.SetFunctions(state, scenarioConstructor, 0)
	state.SetGlobal("Scenario")
}

var scenarioConstructor = []lua.RegistryFunction{
	{Name: "new", Function: scenarioNew},
}

func scenarioNew(state *lua.State) int {
	name := lua.OptString(state, 1, "")
	scenario := &Scenario{Name: name}
	state.PushUserData(scenario)
	lua.SetMetaTableNamed(state, scenarioTypeName)
	return 1
}

var scenarioMethods = []lua.RegistryFunction{
	{Name: "session", Function: scenarioSession},
	{Name: "end_session", Function: scenarioEndSession},
	{Name: "participant", Function: scenarioParticipant},
	{Name: "remove_participant", Function: scenarioRemoveParticipant},
	{Name: "set_presence", Function: scenarioSetPresence},
	{Name: "apply_condition", Function: scenarioApplyCondition},
	{Name: "remove_condition", Function: scenarioRemoveCondition},
	{Name: "declare_initiative", Function: scenarioDeclareInitiative},
	{Name: "roll_initiative", Function: scenarioRollInitiative},
	{Name: "begin_combat", Function: scenarioBeginCombat},
	{Name: "spend", Function: scenarioSpend},
	{Name: "reserve", Function: scenarioReserve},
	{Name: "interrupt", Function: scenarioInterrupt},
	{Name: "end_turn", Function: scenarioEndTurn},
	{Name: "hold_turn", Function: scenarioHoldTurn},
	{Name: "expect_round", Function: scenarioExpectRound},
	{Name: "expect_active_plane", Function: scenarioExpectActivePlane},
	{Name: "expect_current", Function: scenarioExpectCurrent},
	{Name: "expect_status", Function: scenarioExpectStatus},
	{Name: "expect_budget", Function: scenarioExpectBudget},
}

func scenarioSession(state *lua.State) int {
	scenario := checkScenario(state)
	name := lua.OptString(state, 2, "Scenario Session")
	data := map[string]any{"name": name}
	for key, value := range optionalTable(state, 3) {
		data[key] = value
	}
	return pushIntentRef(state, scenario, appendStep(scenario, "session", data))
}

func scenarioEndSession(state *lua.State) int {
	scenario := checkScenario(state)
	data := optionalTable(state, 2)
	return pushIntentRef(state, scenario, appendStep(scenario, "end_session", data))
}

func scenarioParticipant(state *lua.State) int {
	scenario := checkScenario(state)
	name := lua.CheckString(state, 2)
	data := map[string]any{"name": name}
	for key, value := range optionalTable(state, 3) {
		data[key] = value
	}
	return pushIntentRef(state, scenario, appendStep(scenario, "participant", data))
}

func scenarioRemoveParticipant(state *lua.State) int {
	scenario := checkScenario(state)
	name := lua.CheckString(state, 2)
	data := map[string]any{"name": name}
	for key, value := range optionalTable(state, 3) {
		data[key] = value
	}
	return pushIntentRef(state, scenario, appendStep(scenario, "remove_participant", data))
}

func scenarioSetPresence(state *lua.State) int {
	scenario := checkScenario(state)
	name := lua.CheckString(state, 2)
	planeName := lua.CheckString(state, 3)
	present := state.ToBoolean(4)
	data := map[string]any{"name": name, "plane": planeName, "present": present}
	return pushIntentRef(state, scenario, appendStep(scenario, "set_presence", data))
}

func scenarioApplyCondition(state *lua.State) int {
	scenario := checkScenario(state)
	name := lua.CheckString(state, 2)
	condition := lua.CheckString(state, 3)
	data := map[string]any{"name": name, "condition": condition}
	for key, value := range optionalTable(state, 4) {
		data[key] = value
	}
	return pushIntentRef(state, scenario, appendStep(scenario, "apply_condition", data))
}

func scenarioRemoveCondition(state *lua.State) int {
	scenario := checkScenario(state)
	name := lua.CheckString(state, 2)
	condition := lua.CheckString(state, 3)
	data := map[string]any{"name": name, "condition": condition}
	return pushIntentRef(state, scenario, appendStep(scenario, "remove_condition", data))
}

func scenarioDeclareInitiative(state *lua.State) int {
	scenario := checkScenario(state)
	name := lua.CheckString(state, 2)
	planeName := lua.CheckString(state, 3)
	score := int(lua.CheckNumber(state, 4))
	data := map[string]any{"name": name, "plane": planeName, "score": score}
	return pushIntentRef(state, scenario, appendStep(scenario, "declare_initiative", data))
}

func scenarioRollInitiative(state *lua.State) int {
	scenario := checkScenario(state)
	name := lua.CheckString(state, 2)
	planeName := lua.CheckString(state, 3)
	data := map[string]any{"name": name, "plane": planeName}
	return pushIntentRef(state, scenario, appendStep(scenario, "roll_initiative", data))
}

func scenarioBeginCombat(state *lua.State) int {
	scenario := checkScenario(state)
	return pushIntentRef(state, scenario, appendStep(scenario, "begin_combat", nil))
}

func scenarioSpend(state *lua.State) int {
	scenario := checkScenario(state)
	name := lua.CheckString(state, 2)
	planeName := lua.CheckString(state, 3)
	kind := lua.CheckString(state, 4)
	data := map[string]any{"name": name, "plane": planeName, "kind": kind}
	for key, value := range optionalTable(state, 5) {
		data[key] = value
	}
	return pushIntentRef(state, scenario, appendStep(scenario, "spend", data))
}

func scenarioReserve(state *lua.State) int {
	scenario := checkScenario(state)
	name := lua.CheckString(state, 2)
	planeName := lua.CheckString(state, 3)
	kind := lua.CheckString(state, 4)
	data := map[string]any{"name": name, "plane": planeName, "kind": kind}
	return pushIntentRef(state, scenario, appendStep(scenario, "reserve", data))
}

func scenarioInterrupt(state *lua.State) int {
	scenario := checkScenario(state)
	name := lua.CheckString(state, 2)
	planeName := lua.CheckString(state, 3)
	data := map[string]any{"name": name, "plane": planeName}
	for key, value := range optionalTable(state, 4) {
		data[key] = value
	}
	return pushIntentRef(state, scenario, appendStep(scenario, "interrupt", data))
}

func scenarioEndTurn(state *lua.State) int {
	scenario := checkScenario(state)
	name := lua.CheckString(state, 2)
	planeName := lua.CheckString(state, 3)
	data := map[string]any{"name": name, "plane": planeName}
	return pushIntentRef(state, scenario, appendStep(scenario, "end_turn", data))
}

func scenarioHoldTurn(state *lua.State) int {
	scenario := checkScenario(state)
	name := lua.CheckString(state, 2)
	planeName := lua.CheckString(state, 3)
	data := map[string]any{"name": name, "plane": planeName}
	for key, value := range optionalTable(state, 4) {
		data[key] = value
	}
	return pushIntentRef(state, scenario, appendStep(scenario, "hold_turn", data))
}

func scenarioExpectRound(state *lua.State) int {
	scenario := checkScenario(state)
	round := int(lua.CheckNumber(state, 2))
	appendStep(scenario, "expect_round", map[string]any{"round": round})
	return 0
}

func scenarioExpectActivePlane(state *lua.State) int {
	scenario := checkScenario(state)
	planeName := lua.CheckString(state, 2)
	appendStep(scenario, "expect_active_plane", map[string]any{"plane": planeName})
	return 0
}

func scenarioExpectCurrent(state *lua.State) int {
	scenario := checkScenario(state)
	name := lua.CheckString(state, 2)
	appendStep(scenario, "expect_current", map[string]any{"name": name})
	return 0
}

func scenarioExpectStatus(state *lua.State) int {
	scenario := checkScenario(state)
	status := lua.CheckString(state, 2)
	appendStep(scenario, "expect_status", map[string]any{"status": status})
	return 0
}

func scenarioExpectBudget(state *lua.State) int {
	scenario := checkScenario(state)
	name := lua.CheckString(state, 2)
	lua.CheckType(state, 3, lua.TypeTable)
	data := tableToMap(state, 3)
	data["name"] = name
	appendStep(scenario, "expect_budget", data)
	return 0
}

var intentRefMethods = []lua.RegistryFunction{
	{Name: "expecting", Function: intentRefExpecting},
}

// intentRefExpecting marks the referenced step as one the service must
// reject with the given code.
func intentRefExpecting(state *lua.State) int {
	ud := lua.CheckUserData(state, 1, intentRefTypeName)
	ref, ok := ud.(*intentRef)
	if !ok || ref == nil {
		lua.Errorf(state, "invalid intent reference")
		return 0
	}
	code := lua.CheckString(state, 2)
	if ref.stepIndex < 0 || ref.stepIndex >= len(ref.scenario.Steps) {
		lua.Errorf(state, "intent reference is out of range")
		return 0
	}
	step := &ref.scenario.Steps[ref.stepIndex]
	if step.Args == nil {
		step.Args = map[string]any{}
	}
	step.Args["expect"] = code
	return 0
}

func pushIntentRef(state *lua.State, scenario *Scenario, stepIndex int) int {
	state.PushUserData(&intentRef{scenario: scenario, stepIndex: stepIndex})
	lua.SetMetaTableNamed(state, intentRefTypeName)
	return 1
}

func checkScenario(state *lua.State) *Scenario {
	ud := lua.CheckUserData(state, 1, scenarioTypeName)
	if scenario, ok := ud.(*Scenario); ok && scenario != nil {
		return scenario
	}
	lua.ArgumentError(state, 1, "scenario expected")
	return nil
}

func appendStep(scenario *Scenario, kind string, data map[string]any) int {
	if scenario == nil {
		return -1
	}
	if data == nil {
		data = map[string]any{}
	}
	scenario.Steps = append(scenario.Steps, Step{Kind: kind, Args: data})
	return len(scenario.Steps) - 1
}

func optionalTable(state *lua.State, index int) map[string]any {
	if state.IsNoneOrNil(index) || state.TypeOf(index) != lua.TypeTable {
		return map[string]any{}
	}
	return tableToMap(state, index)
}

func tableToMap(state *lua.State, index int) map[string]any {
	output := map[string]any{}
	if state.TypeOf(index) != lua.TypeTable {
		return output
	}

	index = state.AbsIndex(index)
	state.PushNil()
	for state.Next(index) {
		if state.TypeOf(-2) == lua.TypeString {
			key, _ := state.ToString(-2)
			output[key] = luaToGo(state, -1)
		}
		state.Pop(1)
	}
	return output
}

func luaToGo(state *lua.State, index int) any {
	switch state.TypeOf(index) {
	case lua.TypeString:
		value, _ := state.ToString(index)
		return value
	case lua.TypeNumber:
		value, _ := state.ToNumber(index)
		return normalizeNumber(value)
	case lua.TypeBoolean:
		return state.ToBoolean(index)
	case lua.TypeTable:
		return tableToGo(state, index)
	default:
		return nil
	}
}

func tableToGo(state *lua.State, index int) any {
	if state.TypeOf(index) != lua.TypeTable {
		return nil
	}

	index = state.AbsIndex(index)
	isArray := true
	maxIndex := 0
	count := 0
	state.PushNil()
	for state.Next(index) {
		if isArray {
			if state.TypeOf(-2) != lua.TypeNumber {
				isArray = false
			} else if idx, ok := state.ToInteger(-2); ok && idx > 0 {
				count++
				if idx > maxIndex {
					maxIndex = idx
				}
			} else {
				isArray = false
			}
		}
		state.Pop(1)
	}

	if isArray && count > 0 && maxIndex == count {
		result := make([]any, 0, maxIndex)
		for i := 1; i <= maxIndex; i++ {
			state.RawGetInt(index, i)
			result = append(result, luaToGo(state, -1))
			state.Pop(1)
		}
		return result
	}

	return tableToMap(state, index)
}

func normalizeNumber(value float64) any {
	if math.Mod(value, 1) == 0 {
		return int(value)
	}
	return value
}
