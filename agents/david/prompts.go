package david

import "strings"

// Slots of the operating prompt. The braces are part of the persisted prompt
// text, so stored success records can be re-rendered later.
const (
	SlotTools       = "{tools}"
	SlotToolNames   = "{tool_names}"
	SlotConstraints = "{constraints}"
	SlotTips        = "{tips}"
	SlotWorldState  = "{current_world_state}"
	SlotPwdOutput   = "{pwd_output}"
	SlotLsOutput    = "{ls_output}"
	SlotInput       = "{input}"
	SlotScratchpad  = "{agent_scratchpad}"
)

// DefaultOperatingPrompt instantiates the agent for one episode.
const DefaultOperatingPrompt = `Your name is David.

If something doesn't work twice in a row try something new.

Never give up until you accomplish your goal.

You have access to the following tools:

{tools}

Use the following format:

Goal: the goal you are built to accomplish
Thought: you should always think about what to do
Action: the action to take, must be one of [{tool_names}]
Action Input: the input to the action
Observation: the result of the action
... (this Thought/Action/Action Input/Observation can repeat N times)
Thought: I have now completed my goal
Action: ANSWER; a final memo summarizing what was accomplished
Constraints: {constraints}
Tips: {tips}
Current state of the world: {current_world_state}

Note: You will continue operating in the current world, try to continue from where the last agent left off.
Here are some recent commands and observations that may be useful to orient yourself as you begin:
pwd
{pwd_output}
ls
{ls_output}
Begin!
Goal: {input}
{agent_scratchpad}`

const (
	// InitialConstraints seeds the first episode.
	InitialConstraints = "You cannot use the open command. Everything must be done in the terminal. You cannot use nano or vim."
	// InitialTips seeds the first episode.
	InitialTips = "You are in an Ubuntu runtime. You are already authenticated with AWS. To write to a file use the FileWriter tool. " +
		"Use non-blocking commands like cdk deploy --require-approval never. To write multiple commands use &&. You are already a sudo user."
	// InitialWorldState is the world state before the first episode.
	InitialWorldState = "The world is empty and has just been initialized."
)

const worldStateTemplate = `Given the current state of the world:

{current_world_state}

And given the following series of actions and observations:

###Actions and Observations###
{david_execution}
###End of Actions and Observations###

Generate a comprehensive model of the world that includes:

1. A description of the current state of the environment.
2. A summary of the actions taken and their results.
3. Any constraints, limitations, or rules that apply to the environment.
4. Relevant information or context that is necessary to understand the current state of the world. For instance the arn, or at least bucket name, of a bucket that is being used to reach the goal should be recorded.
5. Next steps a new agent should take to continue working towards the goal.

In other words, synthesize the information provided to build a model of the world in which the AI is operating.
The goal we are trying to accomplish is the following: {goal}.`

const metaTemplate = `{I want to instantiate an AI I'm calling David who successfully accomplishes my GOAL.}

#######
MY GOAL
#######

{goal}

##############
END OF MY GOAL
##############

##########################
Current state of the world
##########################

{current_world_state}

#################################
End of current state of the world
#################################

############################
DAVID'S INSTANTIATION PROMPT
############################

{david_instantiation_prompt}

###################################
END OF DAVID'S INSTANTIATION PROMPT
###################################

#################
DAVID'S EXECUTION
#################

{david_execution}

########################
END OF DAVID'S EXECUTION
########################

{I do not count delegation back to myself as success.}
{I will write an improved prompt specifying a new constraint and a new tip to instantiate a new David who hopefully gets closer to accomplishing my goal.}
{Too bad I cannot add new tools, good thing bash is enough for someone to do anything.}
{Even though David may think he did enough to complete goal I do not count it as success, lest I would not need to write a new prompt.}
{The improved prompt must contain one line starting with "Constraints: " and one line starting with "Tips: ".}

###############
IMPROVED PROMPT
###############
`

const evaluationTemplate = `
{execution_output}

Note that delegation does not count as success. Based on the above execution output, was the goal of "{goal}" accomplished? (Yes/No)
`

// render fills slots in one pass, so slot-like text inside values is left
// untouched.
func render(template string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for slot, value := range values {
		pairs = append(pairs, slot, value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
