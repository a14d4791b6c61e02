package filters

const (
	// AnnotationReplyKey carries the routing key recovered from the
	// recipient address or reference headers.
	AnnotationReplyKey = "reply.key"
	// AnnotationKeySource records which extraction strategy matched.
	AnnotationKeySource = "reply.key_source"
	// AnnotationMessageID carries the normalized Message-Id for dedup.
	AnnotationMessageID = "reply.message_id"
)

const (
	KeySourceSubAddress = "sub_address"
	KeySourceReferences = "references"
)
