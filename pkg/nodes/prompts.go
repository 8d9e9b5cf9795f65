package nodes

// Default prompt templates. Every template can be replaced per node through the
// prompt_template (and, for answer, retry_template) configuration keys.
const (
	ClassifyPrompt = `Classify the difficulty of the following task.

Task:
{input}

Reply with exactly one word:
- easy: a short factual answer or a trivial transformation
- medium: needs reasoning or a careful answer that benefits from review
- hard: needs several distinct steps of work

Classification:`

	RetryPrompt = `Your previous answer was reviewed and needs improvement.

Reviewer feedback:
{previous_feedback}

Original request:
{input}

Write an improved, complete answer.`

	ReviewPrompt = `Review the answer below for correctness and completeness.

Question:
{question}

Answer:
{answer}

Respond in this format:
VERDICT: approved or retry
FEEDBACK: what is wrong or missing (empty if approved)`

	CreateTodosPrompt = `Break the following goal into a short list of concrete, ordered work items.

Goal:
{input}

Respond with a JSON array only, for example:
[{"id": 1, "title": "...", "description": "..."}]`

	ExecuteTodoPrompt = `You are working towards this goal:
{goal}

Completed so far:
{previous_results}

Current item: {title}
{description}

Complete the current item and report the result.`

	FinalReviewPrompt = `Review the work done for the request below.

Request:
{input}

Results:
{todo_results}

Point out gaps, errors or inconsistencies, then summarise the overall quality.`

	FinalAnswerPrompt = `Write the final answer to the request below using the completed work.

Request:
{input}

Results:
{todo_results}

Review notes:
{review_feedback}

Final answer:`
)
