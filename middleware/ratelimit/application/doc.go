// Package application contém os casos de uso do controle de admissão:
// casamento de regras, exceções, as estratégias de limite e o Service que
// aplica a tabela de regras em ordem (a primeira negação vence).
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Decide(ctx, req) retorna uma Decision (allow/deny/fail-open).
package application
