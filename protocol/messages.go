package protocol

// Standard replies shared by the worker and the dispatcher. Handlers that
// need a variable message build their own with Replyf.
var (
	ReplyServiceReady       = NewReply(CodeServiceReady, "Service ready for new user.")
	ReplyServiceClosing     = NewReply(CodeServiceClosing, "Service closing control connection.")
	ReplyCommandOK          = NewReply(CodeCommandOK, "Command okay.")
	ReplyLoggedIn           = NewReply(CodeLoggedIn, "User logged in, proceed.")
	ReplyNeedPassword       = NewReply(CodeNeedPassword, "User name okay, need password.")
	ReplySuperfluous        = NewReply(CodeSuperfluous, "Command not implemented, superfluous at this site.")
	ReplyFileActionOK       = NewReply(CodeFileActionOK, "Requested file action okay, completed.")
	ReplyTransferComplete   = NewReply(CodeTransferComplete, "Closing data connection. Requested file action successful.")
	ReplyTooManyUsers       = NewReply(CodeServiceUnavailable, "Too many users, sorry.")
	ReplyServiceUnavailable = NewReply(CodeServiceUnavailable, "Service not available, closing control connection.")
	ReplyCantOpenData       = NewReply(CodeCantOpenData, "Can't open data connection.")
	ReplyNoDataParams       = NewReply(CodeCantOpenData, "Use PORT or PASV first.")
	ReplyTransferAborted    = NewReply(CodeTransferAborted, "Connection closed; transfer aborted.")
	ReplyUnrecognized       = NewReply(CodeSyntaxError, "Syntax error, command unrecognized.")
	ReplyLineTooLong        = NewReply(CodeSyntaxError, "Command line too long.")
	ReplyIllegalPort        = NewReply(CodeSyntaxError, "Illegal PORT command.")
	ReplyBadParameters      = NewReply(CodeParameterSyntaxError, "Syntax error in parameters or arguments.")
	ReplyNotImplemented     = NewReply(CodeNotImplemented, "Command not implemented.")
	ReplyBadSequence        = NewReply(CodeBadSequence, "Bad sequence of commands.")
	ReplyParamNotSupported  = NewReply(CodeParameterNotSupported, "Command not implemented for that parameter.")
	ReplyNotLoggedIn        = NewReply(CodeNotLoggedIn, "Not logged in.")
	ReplyFileUnavailable    = NewReply(CodeFileUnavailable, "Requested action not taken. File unavailable.")
)
