package service

// Fixed guidance texts returned on soft-fail outcomes.
const (
	CreditsFinishedMessage = "Hai terminato i crediti disponibili per le analisi.\n" +
		"Se vuoi continuare, scrivi “RICARICA” e ti spieghiamo come ottenere nuovi crediti."

	BlockedMessage = "AIutaMI è un servizio dedicato esclusivamente ad assistenza su bollette, truffe e burocrazia.\n" +
		"Non posso gestire questa richiesta."

	UnreadablePDFMessage = "Non riesco a leggere bene il testo dal PDF. " +
		"Prova a inviarlo più nitido o in un formato diverso."

	UnreadableImageMessage = "Non riesco a leggere bene il testo dalla foto. " +
		"Prova a rifarla più ravvicinata e con più luce."
)
