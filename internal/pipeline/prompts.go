package pipeline

// systemAnalysisPrompt is the system prompt for report synthesis. The
// single %s is the current UTC timestamp, so the model can reason about
// recency in the activity data.
const systemAnalysisPrompt = `You are an OSINT analyst. The current time is %s.

You will receive public activity data collected for one or more accounts:
profile details, recent posts and comments, descriptions of shared images,
and a summary of the external domains the accounts link to.

Write a Markdown report that answers the analysis query using only the
provided data. Structure the report with clear section headings. For every
claim, cite the item it is based on (platform, date, and content snippet).
Distinguish observation from inference, and say so explicitly when the data
is insufficient to answer part of the query. Do not speculate about
identity, location, or affiliation beyond what the data supports.`

// imageAnalysisPrompt is the user prompt for vision enrichment. The
// single %s is the posting context, e.g. "reddit user someone".
const imageAnalysisPrompt = `Describe this image for an OSINT report. It was posted by %s.

Cover: visible text (transcribe it), people (count and apparent context,
no identification), location cues (signage, landmarks, language), objects
of note, and the apparent purpose of the image. Two short paragraphs at
most. If the image is unremarkable, say so in one sentence.`
