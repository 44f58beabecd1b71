package chains

import "text/template"

var rephrasePrompt = template.Must(template.New("rephrase").Parse(`
You rewrite follow-up questions so they can be understood without the conversation.
Given the conversation so far and a follow-up input, return a standalone question.
Resolve references such as "it", "that episode" or "he" against the conversation.
Keep the user's wording where possible and do not answer the question.
Respond with only the question.`))

var generatePrompt = template.Must(template.New("generate").Parse(`
You are a SQLite developer translating user questions into SQL that answers them.
Convert the user's question into a single SELECT statement based on the schema.

You must:
* Only use the tables and columns mentioned in the schema.
* Give every table an alias and use it for every column, e.g. "e.title".
* Return the id of every returned entity as _id, e.g. "e.id AS _id".
  Related entities may be nested with json_object('_id', t.id, 'name', t.name) or json_group_array(...).
* Return the episode title, date and URL whenever an episode is mentioned.
* Order episodes by e.date DESC unless the question asks for another order; the latest episodes matter most.
* Use LIMIT {{.LookupLimit}} for lookups and LIMIT {{.ExploratoryLimit}} for exploratory or ranked questions.
* Match names and titles case-insensitively with LIKE.
* Respond with only the SQL statement. No preamble.

For example:
SELECT e.id AS _id, e.title, e.date, e.url
FROM episodes e
JOIN episode_topics et ON et.episode_id = e.id
JOIN topics t ON t.id = et.topic_id
WHERE t.slug = 'astro'
ORDER BY e.date DESC
LIMIT {{.LookupLimit}}

Topics: {{.Topics}}

Schema:
{{.Schema}}`))

var evaluatePrompt = template.Must(template.New("evaluate").Parse(`
You are an expert SQLite developer evaluating a SQL statement written by an AI.

Check the statement below against the database schema and make sure it answers the user's question.
Fix every error you can.

The query must:
* Only use the tables and columns mentioned in the schema.
* Use table aliases for every column.
* Return the id of every returned entity as _id.
* For titles that begin with "The", also match the form with "The" moved to the end,
  e.g. "The Magic of CSS" is stored as "Magic of CSS, The".
* Limit the number of results to {{.Limit}} unless the question asks for fewer.
* Be a single read-only SELECT statement.

Respond with a JSON object with "query" and "errors" keys:
* "query" - the corrected SQL statement
* "errors" - a list of errors you could not correct, for example a table or column that does not
  exist in the schema. Give a hint to the correct element where possible. Use an empty list when
  the corrected query is valid.

Schema:
{{.Schema}}`))

// evaluationSchema validates the evaluator's JSON response.
var evaluationSchema = []byte(`{
	"type": "object",
	"properties": {
		"query": {"type": "string"},
		"errors": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["query", "errors"]
}`)
