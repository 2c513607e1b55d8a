package models

const (
	SourcesMarker    = "SOURCES:"
	ContextSeparator = "\n---\n"
	CitationTemplate = "The information was found on the following pages: %s."
	InitialMessage   = "Hello! I'm here to assist with any questions you have about the uploaded documents. How can I help you today?"
)

var (
	// GroundedPromptTemplate takes the context passages and the question
	GroundedPromptTemplate = `Create a final answer to the given question using the provided document excerpts (in no particular order) as sources.
ALWAYS include a "SOURCES" section in your answer citing only the minimal set of sources needed to answer the question.
If you are unable to answer the question, simply state that you do not know. Do not attempt to fabricate an answer and leave the SOURCES section empty.
Use only the excerpts below; do not rely on prior knowledge.

<context>
%s
</context>

QUESTION: %s
=========
FINAL ANSWER:`
)
