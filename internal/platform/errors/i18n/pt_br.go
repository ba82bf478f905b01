package i18n

var ptBRCatalog = &Catalog{
	locale: "pt-BR",
	messages: map[Code]string{
		CodeUnknown: "Ocorreu um erro inesperado",

		// Session errors
		CodeSessionEnded:       "Esta sessão de combate foi encerrada",
		CodeCombatNotBegun:     "O combate ainda não começou",
		CodeCombatAlreadyBegun: "O combate já começou",
		CodePlaneOrderInvalid:  "A ordem dos planos deve listar cada plano exatamente uma vez",

		// Participant errors
		CodeParticipantNameEmpty:     "O nome do participante não pode ser vazio",
		CodeParticipantInvalidKind:   "Tipo de participante inválido",
		CodeParticipantExists:        "Já existe um participante com este identificador",
		CodeParticipantIncapacitated: "{{.Name}} está incapacitado e não pode agir",

		// Initiative/turn errors
		CodeInvalidPlane:        "{{.Name}} não tem presença no plano {{.Plane}}",
		CodeOutOfTurn:           "Não é a vez de {{.Name}} agir",
		CodeInitiativeNotRolled: "{{.Name}} não rolou iniciativa para o plano {{.Plane}}",
		CodeScoreInvalid:        "O valor de iniciativa deve ser não negativo",

		// Action economy errors
		CodeActionUnavailable: "Nenhuma ação {{.Kind}} disponível neste turno",
		CodeActionInvalidKind: "Tipo de ação desconhecido {{.Kind}}",
		CodeActionNotReserved: "{{.Name}} não tem ação reservada para usar",

		// Intent processing errors
		CodeIntentInvalid:   "A intenção enviada não pôde ser interpretada",
		CodeIntentWithdrawn: "A intenção foi retirada antes de ser aplicada",
		CodeConflict:        "Token de idempotência reutilizado com conteúdo diferente",

		// Storage errors
		CodeNotFound:      "O recurso solicitado não foi encontrado",
		CodeAlreadyExists: "O recurso já existe",

		// Journal errors
		CodeJournalCorrupt:   "O diário de eventos falhou na verificação de integridade",
		CodeChecksumMismatch: "O estado reproduzido não corresponde à soma registrada",

		// Infrastructure errors
		CodeInternal:    "Ocorreu um erro interno",
		CodeUnavailable: "A sessão de combate não está aceitando intenções no momento",
	},
}
